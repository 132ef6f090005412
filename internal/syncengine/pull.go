package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"go.uber.org/zap"
)

// PullOutcome counts what a pull did to the local store.
type PullOutcome struct {
	Inserted  int
	Replaced  int
	KeptLocal int
	Removed   int
	Watermark equipment.Timestamp
}

// PullEngine merges remote changes since the watermark into the local store.
type PullEngine struct {
	store     RecordStore
	states    StateStore
	authority Authority
	clock     func() time.Time
	logger    *zap.Logger
}

// PullConfig configures a PullEngine.
type PullConfig struct {
	Store     RecordStore
	States    StateStore
	Authority Authority
	Clock     func() time.Time
	Logger    *zap.Logger
}

// NewPullEngine constructs a PullEngine.
func NewPullEngine(cfg PullConfig) *PullEngine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PullEngine{
		store:     cfg.Store,
		states:    cfg.States,
		authority: cfg.Authority,
		clock:     clock,
		logger:    logger,
	}
}

// Pull fetches changes after the stored watermark, resolves every update, removes every
// tombstoned id, saves the collection, and only then advances the watermark to the
// client time read just before the request.
func (p *PullEngine) Pull(ctx context.Context) (PullOutcome, error) {
	since, err := p.states.Watermark(ctx)
	if err != nil {
		return PullOutcome{}, fmt.Errorf("load watermark: %w", err)
	}
	if since.IsZero() {
		since = equipment.Epoch
	}

	requestedAt := equipment.NewTimestamp(p.clock())
	changes, err := p.authority.Pull(ctx, since)
	if err != nil {
		p.logger.Warn("pull rejected", zap.String("since", since.String()), zap.Error(err))
		return PullOutcome{}, err
	}

	records, err := p.store.GetAll(ctx)
	if err != nil {
		return PullOutcome{}, fmt.Errorf("load local records: %w", err)
	}
	merged, outcome := merge(records, changes)

	if err := p.store.SaveAll(ctx, merged); err != nil {
		return PullOutcome{}, fmt.Errorf("save merged records: %w", err)
	}
	if err := p.states.AdvanceWatermark(ctx, requestedAt); err != nil {
		return PullOutcome{}, fmt.Errorf("advance watermark: %w", err)
	}
	outcome.Watermark = requestedAt
	return outcome, nil
}

// merge applies updates first, then tombstones. An update whose id is also tombstoned
// in the same answer is never inserted; an update without an id panics.
func merge(records []equipment.Record, changes equipment.PullResult) ([]equipment.Record, PullOutcome) {
	var outcome PullOutcome

	tombstoned := make(map[string]struct{}, len(changes.Deletes))
	for _, id := range changes.Deletes {
		tombstoned[id] = struct{}{}
	}

	positions := make(map[string]int, len(records))
	merged := make([]equipment.Record, 0, len(records)+len(changes.Updates))
	for _, record := range records {
		positions[record.ID] = len(merged)
		merged = append(merged, record)
	}

	for index, incoming := range changes.Updates {
		if incoming.ID == "" {
			panic(fmt.Sprintf("syncengine: pulled update at position %d has no id", index))
		}
		position, exists := positions[incoming.ID]
		if !exists {
			if _, deleted := tombstoned[incoming.ID]; deleted {
				continue
			}
		}
		var local equipment.Record
		if exists {
			local = merged[position]
		}
		resolved, decision := Resolve(local, exists, incoming)
		switch decision {
		case DecisionInsert:
			positions[resolved.ID] = len(merged)
			merged = append(merged, resolved)
			outcome.Inserted++
		case DecisionReplace:
			merged[position] = resolved
			outcome.Replaced++
		case DecisionKeepLocal:
			outcome.KeptLocal++
		}
	}

	if len(tombstoned) == 0 {
		return merged, outcome
	}
	kept := merged[:0]
	for _, record := range merged {
		if _, deleted := tombstoned[record.ID]; deleted {
			outcome.Removed++
			continue
		}
		kept = append(kept, record)
	}
	return kept, outcome
}
