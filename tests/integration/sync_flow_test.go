package integration_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/auth"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/authority"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/config"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/database"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/localstore"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/remote"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/server"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/syncengine"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	integrationSecret   = "integration-secret-0123456789"
	integrationIssuer   = "equipment-api"
	integrationAudience = "equipment-sync"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type syncClient struct {
	store       *localstore.Store
	states      *localstore.StateStore
	remote      *remote.Client
	coordinator *syncengine.Coordinator
}

type authorityHarness struct {
	baseURL string
	tokens  *auth.TokenIssuer
	clock   *steppingClock
}

func startAuthority(testContext *testing.T) authorityHarness {
	testContext.Helper()
	gin.SetMode(gin.TestMode)
	clock := &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenAuthority(config.DriverSQLite, dsn, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open authority database: %v", err)
	}

	service, err := authority.NewService(authority.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: authority.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build authority service: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(integrationSecret),
		Issuer:        integrationIssuer,
		Audience:      integrationAudience,
	})
	if err != nil {
		testContext.Fatalf("failed to construct token issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:    tokens,
		Authority: service,
		Changes:   server.NewChangeDispatcher(),
		Logger:    zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return authorityHarness{baseURL: testServer.URL, tokens: tokens, clock: clock}
}

func (h authorityHarness) newClient(testContext *testing.T, operatorID string) syncClient {
	testContext.Helper()
	token, _, err := h.tokens.IssueOperatorToken(context.Background(), operatorID)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}

	db, err := database.OpenLocal(filepath.Join(testContext.TempDir(), operatorID+".db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open local database: %v", err)
	}
	store, err := localstore.NewStore(db, h.clock.Now, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to build local store: %v", err)
	}
	states, err := localstore.NewStateStore(db)
	if err != nil {
		testContext.Fatalf("failed to build state store: %v", err)
	}
	client, err := remote.NewClient(remote.Config{BaseURL: h.baseURL, Token: token, Timeout: 5 * time.Second})
	if err != nil {
		testContext.Fatalf("failed to build remote client: %v", err)
	}

	coordinator := syncengine.NewCoordinator(syncengine.CoordinatorConfig{
		Push:   syncengine.NewPushEngine(syncengine.PushConfig{Store: store, Authority: client}),
		Pull:   syncengine.NewPullEngine(syncengine.PullConfig{Store: store, States: states, Authority: client, Clock: h.clock.Now}),
		States: states,
		Clock:  h.clock.Now,
	})
	return syncClient{store: store, states: states, remote: client, coordinator: coordinator}
}

func mustSync(testContext *testing.T, client syncClient) syncengine.Result {
	testContext.Helper()
	result := client.coordinator.Sync(context.Background())
	if !result.Success {
		testContext.Fatalf("sync failed in %s: [%s] %s", result.Phase, result.Code, result.Message)
	}
	return result
}

func visibleByID(testContext *testing.T, client syncClient) map[string]equipment.Record {
	testContext.Helper()
	records, err := client.store.GetAll(context.Background())
	if err != nil {
		testContext.Fatalf("failed to load records: %v", err)
	}
	visible := make(map[string]equipment.Record, len(records))
	for _, record := range records {
		if !record.IsDeleted {
			visible[record.ID] = record
		}
	}
	return visible
}

func TestTwoClientsConvergeOverHTTP(testContext *testing.T) {
	harness := startAuthority(testContext)
	warehouse := harness.newClient(testContext, "warehouse")
	field := harness.newClient(testContext, "field")
	ctx := context.Background()

	drill, err := warehouse.store.Put(ctx, "", equipment.Fields{Name: "Drill", Type: "Power tool", Quantity: 3, Status: "available"})
	if err != nil {
		testContext.Fatalf("failed to add record: %v", err)
	}
	first := mustSync(testContext, warehouse)
	if first.Push.UpdatedCount != 1 || first.Push.MarkedSynced != 1 {
		testContext.Fatalf("unexpected push outcome %+v", first.Push)
	}

	mustSync(testContext, field)
	fieldView := visibleByID(testContext, field)
	received, ok := fieldView[drill.ID]
	if !ok || received.Name != "Drill" || !received.IsSynced {
		testContext.Fatalf("expected field client to receive the drill, got %+v", fieldView)
	}

	borrowed := received.Fields
	borrowed.Status = "borrowed"
	borrowed.Borrower = "Lin"
	if _, err := field.store.Put(ctx, drill.ID, borrowed); err != nil {
		testContext.Fatalf("failed to edit record: %v", err)
	}
	mustSync(testContext, field)

	mustSync(testContext, warehouse)
	warehouseView := visibleByID(testContext, warehouse)
	if warehouseView[drill.ID].Borrower != "Lin" || warehouseView[drill.ID].Status != "borrowed" {
		testContext.Fatalf("expected warehouse to see the borrow, got %+v", warehouseView[drill.ID])
	}

	if _, err := warehouse.store.MarkDeleted(ctx, drill.ID, false); err != nil {
		testContext.Fatalf("failed to delete record: %v", err)
	}
	deletion := mustSync(testContext, warehouse)
	if deletion.Push.DeletedCount != 1 {
		testContext.Fatalf("expected one acknowledged delete, got %+v", deletion.Push)
	}
	mustSync(testContext, field)

	if _, ok := visibleByID(testContext, warehouse)[drill.ID]; ok {
		testContext.Fatalf("warehouse should no longer hold the deleted record")
	}
	if _, ok := visibleByID(testContext, field)[drill.ID]; ok {
		testContext.Fatalf("field client should drop the centrally deleted record")
	}

	snapshot, err := field.states.Snapshot(ctx)
	if err != nil {
		testContext.Fatalf("failed to read sync state: %v", err)
	}
	if snapshot.SyncState != string(syncengine.StateIdle) || snapshot.LastSuccess.IsZero() || snapshot.LastError != "" {
		testContext.Fatalf("unexpected persisted state %+v", snapshot)
	}
}

func TestOversizePushIsRejectedOverHTTP(testContext *testing.T) {
	harness := startAuthority(testContext)
	client := harness.newClient(testContext, "bulk-import")
	ctx := context.Background()

	for index := 0; index < authority.DefaultMaxBatchSize+1; index++ {
		if _, err := client.store.Put(ctx, "", equipment.Fields{Name: fmt.Sprintf("Cable %d", index), Quantity: 1}); err != nil {
			testContext.Fatalf("failed to add record: %v", err)
		}
	}

	result := client.coordinator.Sync(ctx)
	if result.Success || result.Code != equipment.CodeOverSizeLimit {
		testContext.Fatalf("expected OVER_SIZE_LIMIT failure, got %+v", result)
	}

	dirty, err := syncengine.NewChangeTracker(client.store).Scan(ctx)
	if err != nil {
		testContext.Fatalf("failed to scan dirty records: %v", err)
	}
	if len(dirty.Upserts) != authority.DefaultMaxBatchSize+1 {
		testContext.Fatalf("rejected records must stay dirty, got %d", len(dirty.Upserts))
	}
}

func TestChangeStreamAnnouncesPushes(testContext *testing.T) {
	harness := startAuthority(testContext)
	writer := harness.newClient(testContext, "writer")
	listener := harness.newClient(testContext, "listener")

	streamContext, cancel := context.WithCancel(context.Background())
	defer cancel()
	notices := make(chan equipment.ChangeNotice, 1)
	go func() {
		_ = listener.remote.Subscribe(streamContext, func(notice equipment.ChangeNotice) {
			select {
			case notices <- notice:
			default:
			}
		})
	}()

	// The subscriber may not be registered yet, so keep pushing fresh edits until a notice arrives.
	deadline := time.After(5 * time.Second)
	ctx := context.Background()
	for attempt := 0; ; attempt++ {
		if _, err := writer.store.Put(ctx, "", equipment.Fields{Name: fmt.Sprintf("Ladder %d", attempt), Quantity: 1}); err != nil {
			testContext.Fatalf("failed to add record: %v", err)
		}
		mustSync(testContext, writer)
		select {
		case notice := <-notices:
			if notice.Type != equipment.ChangeNoticeType || len(notice.IDs) == 0 {
				testContext.Fatalf("unexpected notice %+v", notice)
			}
			return
		case <-deadline:
			testContext.Fatalf("no change notice received")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
