package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"go.uber.org/zap"
)

// State is the coordinator's position in its cycle.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// Order selects which phase of a cycle runs first.
type Order string

const (
	OrderPushPull Order = "push-pull"
	OrderPullPush Order = "pull-push"
)

// MessageAlreadySyncing is the message of a Result refused by the single-flight guard.
const MessageAlreadySyncing = "already syncing"

var errUnknownOrder = errors.New("syncengine: unknown cycle order")

// ParseOrder accepts "push-pull" and "pull-push"; blank selects push-pull.
func ParseOrder(raw string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OrderPushPull:
		return OrderPushPull, nil
	case OrderPullPush:
		return OrderPullPush, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownOrder, raw)
	}
}

// Result describes one Sync call. Failures are reported here, never as errors.
type Result struct {
	Success        bool
	AlreadySyncing bool
	Message        string
	// Code preserves the authority's condition code, such as OVER_SIZE_LIMIT.
	Code        string
	Phase       string
	Push        PushOutcome
	Pull        PullOutcome
	CompletedAt equipment.Timestamp
}

// Telemetry accumulates counters over the coordinator's lifetime.
type Telemetry struct {
	CyclesStarted   int
	CyclesSucceeded int
	CyclesFailed    int
	CyclesRejected  int
	LastSuccess     equipment.Timestamp
	LastError       string
	LastPush        PushOutcome
	LastPull        PullOutcome
}

// CoordinatorConfig wires the coordinator's collaborators.
type CoordinatorConfig struct {
	Push   *PushEngine
	Pull   *PullEngine
	States StateStore
	Order  Order
	Clock  func() time.Time
	Logger *zap.Logger
}

// Coordinator runs push and pull as one cycle and admits at most one cycle at a time.
// Overlapping calls are rejected, not queued.
type Coordinator struct {
	push   *PushEngine
	pull   *PullEngine
	states StateStore
	order  Order
	clock  func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	telemetry Telemetry
}

// NewCoordinator constructs a Coordinator in the idle state.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	order := cfg.Order
	if order == "" {
		order = OrderPushPull
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		push:   cfg.Push,
		pull:   cfg.Pull,
		states: cfg.States,
		order:  order,
		clock:  clock,
		logger: logger,
		state:  StateIdle,
	}
}

// Recover resets a persisted syncing state left behind by a process that died mid-cycle.
func (c *Coordinator) Recover(ctx context.Context) error {
	if c.states == nil {
		return nil
	}
	persisted, err := c.states.SyncState(ctx)
	if err != nil {
		return err
	}
	if State(persisted) != StateSyncing {
		return nil
	}
	c.logger.Warn("resetting interrupted sync cycle")
	return c.states.SetSyncState(ctx, string(StateIdle))
}

// State reports the current in-process state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Telemetry returns a copy of the accumulated counters.
func (c *Coordinator) Telemetry() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.telemetry
}

// Sync runs one cycle. A call made while another cycle is in flight returns immediately
// with AlreadySyncing set and performs no remote calls.
func (c *Coordinator) Sync(ctx context.Context) Result {
	if !c.begin() {
		return Result{AlreadySyncing: true, Message: MessageAlreadySyncing}
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			c.reset()
			panic(recovered)
		}
	}()
	c.persistState(ctx, StateSyncing)

	result := c.run(ctx)

	final := StateSuccess
	if !result.Success {
		final = StateFailed
	}
	c.finish(final, result)
	c.persistState(ctx, final)
	c.persistOutcome(ctx, result)
	c.reset()
	c.persistState(ctx, StateIdle)
	return result
}

func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSyncing {
		c.telemetry.CyclesRejected++
		return false
	}
	c.state = StateSyncing
	c.telemetry.CyclesStarted++
	return true
}

func (c *Coordinator) run(ctx context.Context) Result {
	var result Result
	phases := []string{phasePush, phasePull}
	if c.order == OrderPullPush {
		phases = []string{phasePull, phasePush}
	}
	for _, phase := range phases {
		var err error
		switch phase {
		case phasePush:
			result.Push, err = c.push.Push(ctx)
		case phasePull:
			result.Pull, err = c.pull.Pull(ctx)
		}
		if err != nil {
			result.Phase = phase
			result.Message = err.Error()
			result.Code = conditionCode(err)
			c.logger.Error("sync cycle failed",
				zap.String("phase", phase),
				zap.String("code", result.Code),
				zap.Error(err))
			return result
		}
	}
	result.Success = true
	result.CompletedAt = equipment.NewTimestamp(c.clock())
	c.logger.Info("sync cycle completed",
		zap.String("order", string(c.order)),
		zap.Int("pushed_updates", result.Push.UpdatedCount),
		zap.Int("pushed_deletes", result.Push.DeletedCount),
		zap.Int("pulled_inserted", result.Pull.Inserted),
		zap.Int("pulled_replaced", result.Pull.Replaced),
		zap.Int("pulled_removed", result.Pull.Removed))
	return result
}

func (c *Coordinator) finish(final State, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = final
	c.telemetry.LastPush = result.Push
	c.telemetry.LastPull = result.Pull
	if result.Success {
		c.telemetry.CyclesSucceeded++
		c.telemetry.LastSuccess = result.CompletedAt
		c.telemetry.LastError = ""
		return
	}
	c.telemetry.CyclesFailed++
	c.telemetry.LastError = result.Message
}

func (c *Coordinator) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
}

// persistState is best effort; the in-process guard does not depend on it.
func (c *Coordinator) persistState(ctx context.Context, state State) {
	if c.states == nil {
		return
	}
	if err := c.states.SetSyncState(ctx, string(state)); err != nil {
		c.logger.Warn("failed to persist sync state", zap.String("state", string(state)), zap.Error(err))
	}
}

func (c *Coordinator) persistOutcome(ctx context.Context, result Result) {
	if c.states == nil {
		return
	}
	var err error
	if result.Success {
		err = c.states.RecordSuccess(ctx, result.CompletedAt)
	} else {
		err = c.states.RecordFailure(ctx, result.Message)
	}
	if err != nil {
		c.logger.Warn("failed to persist sync outcome", zap.Error(err))
	}
}

const (
	phasePush = "push"
	phasePull = "pull"
)

// conditionCoder is implemented by authority rejections that carry a wire condition code.
type conditionCoder interface {
	ConditionCode() string
}

func conditionCode(err error) string {
	var coded conditionCoder
	if errors.As(err, &coded) {
		return coded.ConditionCode()
	}
	return ""
}
