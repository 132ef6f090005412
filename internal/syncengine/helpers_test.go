package syncengine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/authority"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/localstore"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// tickingClock returns a strictly increasing time on every read.
type tickingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Millisecond}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type memoryStore struct {
	mu      sync.Mutex
	records []equipment.Record
	saves   int
}

func newMemoryStore(records ...equipment.Record) *memoryStore {
	return &memoryStore{records: append([]equipment.Record(nil), records...)}
}

func (s *memoryStore) GetAll(context.Context) ([]equipment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]equipment.Record(nil), s.records...), nil
}

func (s *memoryStore) SaveAll(_ context.Context, records []equipment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]equipment.Record(nil), records...)
	s.saves++
	return nil
}

func (s *memoryStore) find(id string) (equipment.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.ID == id {
			return record, true
		}
	}
	return equipment.Record{}, false
}

func (s *memoryStore) replace(record equipment.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for index := range s.records {
		if s.records[index].ID == record.ID {
			s.records[index] = record
			return
		}
	}
	s.records = append(s.records, record)
}

type memoryStates struct {
	mu          sync.Mutex
	watermark   equipment.Timestamp
	state       string
	history     []string
	lastSuccess equipment.Timestamp
	lastError   string
}

func (s *memoryStates) Watermark(context.Context) (equipment.Timestamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, nil
}

func (s *memoryStates) AdvanceWatermark(_ context.Context, next equipment.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watermark.IsZero() || next.After(s.watermark) {
		s.watermark = next
	}
	return nil
}

func (s *memoryStates) SyncState(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *memoryStates) SetSyncState(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.history = append(s.history, state)
	return nil
}

func (s *memoryStates) RecordSuccess(_ context.Context, completedAt equipment.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSuccess = completedAt
	s.lastError = ""
	return nil
}

func (s *memoryStates) RecordFailure(_ context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = message
	return nil
}

type rejection struct {
	code    string
	message string
}

func (r *rejection) Error() string {
	return r.message
}

func (r *rejection) ConditionCode() string {
	return r.code
}

// scriptedAuthority answers from canned values and records every call.
type scriptedAuthority struct {
	mu         sync.Mutex
	pullResult equipment.PullResult
	pullErr    error
	pushErrs   []error
	pushHook   func(equipment.PushRequest)
	pushes     []equipment.PushRequest
	pulls      []equipment.Timestamp
	calls      []string
}

func (a *scriptedAuthority) Pull(_ context.Context, since equipment.Timestamp) (equipment.PullResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, phasePull)
	a.pulls = append(a.pulls, since)
	if a.pullErr != nil {
		return equipment.PullResult{}, a.pullErr
	}
	return a.pullResult, nil
}

func (a *scriptedAuthority) Push(_ context.Context, request equipment.PushRequest) (equipment.PushResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, phasePush)
	a.pushes = append(a.pushes, request)
	index := len(a.pushes) - 1
	hook := a.pushHook
	var err error
	if index < len(a.pushErrs) {
		err = a.pushErrs[index]
	}
	a.mu.Unlock()

	if hook != nil {
		hook(request)
	}
	if err != nil {
		return equipment.PushResult{}, err
	}
	return equipment.PushResult{
		UpdatedCount: len(request.Updates),
		DeletedCount: len(request.Deletes) + len(request.PermanentDeletes),
	}, nil
}

func (a *scriptedAuthority) callLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// serviceAuthority drives a real authority service in process.
type serviceAuthority struct {
	service  *authority.Service
	operator string
	// dropAcks makes the next n pushes apply remotely but report a transport failure.
	dropAcks int
}

func (a *serviceAuthority) Pull(ctx context.Context, since equipment.Timestamp) (equipment.PullResult, error) {
	changes, err := a.service.ListChanges(ctx, since)
	if err != nil {
		return equipment.PullResult{}, &rejection{code: authority.ConditionCode(err), message: err.Error()}
	}
	return equipment.PullResult{Updates: changes.Updates, Deletes: changes.Deletes}, nil
}

func (a *serviceAuthority) Push(ctx context.Context, request equipment.PushRequest) (equipment.PushResult, error) {
	result, err := a.service.ApplyBatch(ctx, a.operator, authority.BatchFromRequest(request))
	if err != nil {
		return equipment.PushResult{}, &rejection{code: authority.ConditionCode(err), message: err.Error()}
	}
	if a.dropAcks > 0 {
		a.dropAcks--
		return equipment.PushResult{}, fmt.Errorf("connection reset before response")
	}
	return equipment.PushResult{UpdatedCount: result.UpdatedCount, DeletedCount: result.DeletedCount}, nil
}

func openMemoryDatabase(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func newAuthorityService(t *testing.T, clock func() time.Time) *authority.Service {
	t.Helper()
	db := openMemoryDatabase(t, "authority")
	require.NoError(t, db.AutoMigrate(&authority.CanonicalRecord{}, &authority.TombstoneRecord{}))
	service, err := authority.NewService(authority.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: authority.NewUUIDProvider(),
	})
	require.NoError(t, err)
	return service
}

type testClient struct {
	store       *localstore.Store
	states      *localstore.StateStore
	coordinator *Coordinator
}

func newTestClient(t *testing.T, name string, remote Authority, clock func() time.Time, chunkSize int) *testClient {
	t.Helper()
	db := openMemoryDatabase(t, name)
	require.NoError(t, db.AutoMigrate(localstore.Models()...))
	store, err := localstore.NewStore(db, clock, nil)
	require.NoError(t, err)
	states, err := localstore.NewStateStore(db)
	require.NoError(t, err)

	coordinator := NewCoordinator(CoordinatorConfig{
		Push:   NewPushEngine(PushConfig{Store: store, Authority: remote, ChunkSize: chunkSize}),
		Pull:   NewPullEngine(PullConfig{Store: store, States: states, Authority: remote, Clock: clock}),
		States: states,
		Clock:  clock,
	})
	return &testClient{store: store, states: states, coordinator: coordinator}
}

func (c *testClient) visible(t *testing.T) map[string]equipment.Record {
	t.Helper()
	records, err := c.store.GetAll(context.Background())
	require.NoError(t, err)
	visible := make(map[string]equipment.Record, len(records))
	for _, record := range records {
		if record.IsDeleted {
			continue
		}
		visible[record.ID] = record
	}
	return visible
}

func makeRecord(id, name, updateTime string, synced bool) equipment.Record {
	return equipment.Record{
		ID:         id,
		Fields:     equipment.Fields{Name: name, Quantity: 1, Status: equipment.StatusAvailable},
		CreateTime: equipment.MustParseTimestamp("2024-01-01T00:00:00Z"),
		UpdateTime: equipment.MustParseTimestamp(updateTime),
		IsSynced:   synced,
	}
}
