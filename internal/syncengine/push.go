package syncengine

import (
	"context"
	"fmt"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"go.uber.org/zap"
)

// PushOutcome sums the counts acknowledged by the authority.
type PushOutcome struct {
	UpdatedCount int
	DeletedCount int
	Batches      int
	// MarkedSynced counts local records flipped to synced; records edited during the
	// round trip are excluded.
	MarkedSynced int
}

// PushEngine sends dirty records to the authority and marks acknowledged ones synced.
type PushEngine struct {
	store     RecordStore
	tracker   *ChangeTracker
	authority Authority
	chunkSize int
	logger    *zap.Logger
}

// PushConfig configures a PushEngine.
type PushConfig struct {
	Store     RecordStore
	Authority Authority
	// ChunkSize bounds items per request; zero sends every dirty item in one batch.
	ChunkSize int
	Logger    *zap.Logger
}

// NewPushEngine constructs a PushEngine.
func NewPushEngine(cfg PushConfig) *PushEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	chunkSize := cfg.ChunkSize
	if chunkSize < 0 {
		chunkSize = 0
	}
	return &PushEngine{
		store:     cfg.Store,
		tracker:   NewChangeTracker(cfg.Store),
		authority: cfg.Authority,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Push sends the current dirty set. An empty set makes no remote call. On failure the
// chunk that failed and every later chunk stay dirty.
func (p *PushEngine) Push(ctx context.Context) (PushOutcome, error) {
	dirty, err := p.tracker.Scan(ctx)
	if err != nil {
		return PushOutcome{}, fmt.Errorf("scan local changes: %w", err)
	}
	if dirty.Empty() {
		return PushOutcome{}, nil
	}

	var outcome PushOutcome
	for _, request := range splitRequests(dirty, p.chunkSize) {
		result, err := p.authority.Push(ctx, request)
		if err != nil {
			p.logger.Warn("push batch rejected",
				zap.Int("batch", outcome.Batches+1),
				zap.Int("items", request.Size()),
				zap.Error(err))
			return outcome, err
		}
		outcome.Batches++
		outcome.UpdatedCount += result.UpdatedCount
		outcome.DeletedCount += result.DeletedCount

		marked, err := p.markSynced(ctx, request, dirty.Snapshot)
		if err != nil {
			return outcome, fmt.Errorf("mark pushed records synced: %w", err)
		}
		outcome.MarkedSynced += marked
	}
	return outcome, nil
}

// markSynced reloads the store and flips only records still equal to the pushed version.
func (p *PushEngine) markSynced(ctx context.Context, request equipment.PushRequest, snapshot map[string]equipment.Record) (int, error) {
	pushed := make(map[string]struct{}, request.Size())
	for _, record := range request.Updates {
		pushed[record.ID] = struct{}{}
	}
	for _, id := range request.Deletes {
		pushed[id] = struct{}{}
	}
	for _, id := range request.PermanentDeletes {
		pushed[id] = struct{}{}
	}

	records, err := p.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	marked := 0
	for index, current := range records {
		if _, ok := pushed[current.ID]; !ok {
			continue
		}
		sent, ok := snapshot[current.ID]
		if !ok || !current.SameVersion(sent) {
			continue
		}
		records[index].IsSynced = true
		marked++
	}
	if marked == 0 {
		return 0, nil
	}
	if err := p.store.SaveAll(ctx, records); err != nil {
		return 0, err
	}
	return marked, nil
}

// splitRequests turns a dirty set into requests of at most chunkSize items, upserts
// first, then soft deletes, then permanent deletes.
func splitRequests(dirty DirtySet, chunkSize int) []equipment.PushRequest {
	if chunkSize <= 0 || dirty.Size() <= chunkSize {
		return []equipment.PushRequest{{
			Updates:          append([]equipment.Record{}, dirty.Upserts...),
			Deletes:          append([]string{}, dirty.Deletes...),
			PermanentDeletes: dirty.PermanentDeletes,
		}}
	}

	var requests []equipment.PushRequest
	current := newRequest()
	flush := func() {
		if current.Size() == 0 {
			return
		}
		requests = append(requests, current)
		current = newRequest()
	}
	for _, record := range dirty.Upserts {
		current.Updates = append(current.Updates, record)
		if current.Size() == chunkSize {
			flush()
		}
	}
	for _, id := range dirty.Deletes {
		current.Deletes = append(current.Deletes, id)
		if current.Size() == chunkSize {
			flush()
		}
	}
	for _, id := range dirty.PermanentDeletes {
		current.PermanentDeletes = append(current.PermanentDeletes, id)
		if current.Size() == chunkSize {
			flush()
		}
	}
	flush()
	return requests
}

func newRequest() equipment.PushRequest {
	return equipment.PushRequest{Updates: []equipment.Record{}, Deletes: []string{}}
}
