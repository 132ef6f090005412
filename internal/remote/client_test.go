package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func newStubClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL + "/", Token: "token-1", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.ErrorIs(t, err, errMissingBaseURL)

	_, err = NewClient(Config{BaseURL: "ftp://inventory.example.com"})
	require.Error(t, err)
}

func TestPullSendsWatermarkAndDecodesChanges(t *testing.T) {
	var received map[string]interface{}
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pullPath, r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"success":true,"updates":[{"id":"A","name":"Scope","quantity":1,"updateTime":"2024-01-02T00:00:00.000Z","isSynced":true}],"deletes":["B"]}`))
	})

	result, err := client.Pull(context.Background(), equipment.MustParseTimestamp("2024-01-01T00:00:00Z"))
	require.NoError(t, err)
	require.Equal(t, "2024-01-01T00:00:00.000Z", received["lastSyncTime"])
	require.Len(t, result.Updates, 1)
	require.Equal(t, "Scope", result.Updates[0].Name)
	require.Equal(t, []string{"B"}, result.Deletes)
}

func TestPushDecodesCounts(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pushPath, r.URL.Path)
		var request equipment.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.Len(t, request.Updates, 1)
		_, _ = w.Write([]byte(`{"success":true,"updatedCount":1,"deletedCount":0}`))
	})

	result, err := client.Push(context.Background(), equipment.PushRequest{Updates: []equipment.Record{{ID: "A"}}, Deletes: []string{}})
	require.NoError(t, err)
	require.Equal(t, 1, result.UpdatedCount)
}

func TestRejectionPreservesConditionCode(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte(`{"success":false,"code":"OVER_SIZE_LIMIT","message":"batch exceeds size limit"}`))
	})

	_, err := client.Push(context.Background(), equipment.PushRequest{})
	var remoteErr *Error
	require.True(t, errors.As(err, &remoteErr))
	require.Equal(t, equipment.CodeOverSizeLimit, remoteErr.ConditionCode())
	require.Equal(t, http.StatusRequestEntityTooLarge, remoteErr.StatusCode)
	require.Equal(t, "batch exceeds size limit", err.Error())
	require.False(t, errors.Is(err, ErrTransport))
}

func TestNonEnvelopeErrorsMapToStatusCodes(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := client.Pull(context.Background(), equipment.Timestamp{})
	var remoteErr *Error
	require.True(t, errors.As(err, &remoteErr))
	require.Equal(t, equipment.CodeInternal, remoteErr.Code)
	require.Equal(t, http.StatusBadGateway, remoteErr.StatusCode)
}

func TestUnreachableAuthorityIsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client, err := NewClient(Config{BaseURL: baseURL, Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Pull(context.Background(), equipment.Timestamp{})
	require.ErrorIs(t, err, ErrTransport)
}

func TestSubscribeDeliversNotices(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, streamPath, r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"heartbeat"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`not json`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"equipment-changed","ids":["A"],"timestamp":"2024-01-01T00:00:00.000Z"}`))
		_, _, _ = conn.Read(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	notices := make(chan equipment.ChangeNotice, 1)
	done := make(chan error, 1)
	go func() {
		done <- client.Subscribe(ctx, func(notice equipment.ChangeNotice) {
			notices <- notice
		})
	}()

	select {
	case notice := <-notices:
		require.Equal(t, []string{"A"}, notice.IDs)
	case <-ctx.Done():
		t.Fatal("no notice received")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestSubscribeReportsDialFailure(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := client.Subscribe(context.Background(), func(equipment.ChangeNotice) {})
	require.ErrorIs(t, err, ErrTransport)
	require.True(t, strings.Contains(err.Error(), "open change stream"))
}
