// Package server exposes the remote authority over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/auth"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/authority"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const operatorIDContextKey = "equipment_operator_id"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingAuthority      = errors.New("authority dependency required")
)

// TokenValidator resolves a bearer token to the operator id it was issued to.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// SyncAuthority is the subset of the authority service served over HTTP.
type SyncAuthority interface {
	ApplyBatch(ctx context.Context, operatorID string, batch authority.Batch) (authority.ApplyResult, error)
	ListChanges(ctx context.Context, since equipment.Timestamp) (authority.ChangeSet, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Tokens    TokenValidator
	Authority SyncAuthority
	// Changes is optional; without it the stream endpoint is not registered.
	Changes        *ChangeDispatcher
	Logger         *zap.Logger
	Clock          func() time.Time
	AllowedOrigins []string
}

// NewHTTPHandler builds the gin router for the sync API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Authority == nil {
		return nil, errMissingAuthority
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:    deps.Tokens,
		authority: deps.Authority,
		changes:   deps.Changes,
		logger:    logger,
		clock:     clock,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/sync")
	protected.Use(handler.authorizeRequest)
	protected.POST("/push", handler.handlePush)
	protected.POST("/pull", handler.handlePull)
	if deps.Changes != nil {
		protected.GET("/stream", handler.handleStream)
	}

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	tokens    TokenValidator
	authority SyncAuthority
	changes   *ChangeDispatcher
	logger    *zap.Logger
	clock     func() time.Time
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handlePush(c *gin.Context) {
	operatorID := c.GetString(operatorIDContextKey)

	var request equipment.PushRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondFailure(c, http.StatusBadRequest, equipment.CodeInvalidRequest, "request body must be a push batch")
		return
	}

	result, err := h.authority.ApplyBatch(c.Request.Context(), operatorID, authority.BatchFromRequest(request))
	if err != nil {
		h.respondAuthorityError(c, err)
		return
	}

	if h.changes != nil && len(result.ChangedIDs) > 0 {
		h.changes.Publish(equipment.ChangeNotice{
			Type:      equipment.ChangeNoticeType,
			IDs:       result.ChangedIDs,
			Timestamp: equipment.NewTimestamp(h.clock()),
		})
	}

	c.JSON(http.StatusOK, equipment.PushResponse{
		Envelope: equipment.Envelope{Success: true},
		PushResult: equipment.PushResult{
			UpdatedCount: result.UpdatedCount,
			DeletedCount: result.DeletedCount,
		},
	})
}

func (h *httpHandler) handlePull(c *gin.Context) {
	var request equipment.PullRequest
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		h.respondFailure(c, http.StatusBadRequest, equipment.CodeInvalidRequest, "request body must carry lastSyncTime")
		return
	}
	since := equipment.Epoch
	if request.LastSyncTime != nil && !request.LastSyncTime.IsZero() {
		since = *request.LastSyncTime
	}

	changes, err := h.authority.ListChanges(c.Request.Context(), since)
	if err != nil {
		h.respondAuthorityError(c, err)
		return
	}

	response := equipment.PullResponse{
		Envelope: equipment.Envelope{Success: true},
		PullResult: equipment.PullResult{
			Updates: changes.Updates,
			Deletes: changes.Deletes,
		},
	}
	if response.Updates == nil {
		response.Updates = []equipment.Record{}
	}
	if response.Deletes == nil {
		response.Deletes = []string{}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) respondAuthorityError(c *gin.Context, err error) {
	code := authority.ConditionCode(err)
	switch code {
	case equipment.CodeOverSizeLimit:
		h.respondFailure(c, http.StatusRequestEntityTooLarge, code, err.Error())
	case equipment.CodeValidationFailed:
		h.respondFailure(c, http.StatusBadRequest, code, err.Error())
	default:
		h.logger.Error("authority request failed", zap.String("path", c.FullPath()), zap.Error(err))
		h.respondFailure(c, http.StatusInternalServerError, equipment.CodeInternal, "internal error")
	}
}

func (h *httpHandler) respondFailure(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, equipment.Envelope{Success: false, Code: code, Message: message})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		h.respondFailure(c, http.StatusUnauthorized, equipment.CodeUnauthorized, "authorization header missing or invalid")
		return
	}
	operatorID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		h.respondFailure(c, http.StatusUnauthorized, equipment.CodeUnauthorized, "unauthorized")
		return
	}
	c.Set(operatorIDContextKey, operatorID)
	c.Next()
}
