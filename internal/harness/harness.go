package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/engine"
	"github.com/roach88/relhist/internal/row"
	"github.com/roach88/relhist/internal/store"
	"github.com/roach88/relhist/internal/testutil"
)

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the engine logger for the run.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Harness executes one scenario against its own engine.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	logger *zap.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
//  1. Build the descriptor registry from the scenario mapping
//  2. Create the history tables in a fresh in-memory database
//  3. Run each unit of work, committing or aborting it
//  4. Evaluate assertions against the resulting history
//
// Step failures and failed assertions are reported in the Result. An error
// is returned only when the scenario cannot run at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	if scenario.Config == nil {
		return nil, fmt.Errorf("scenario %q has no mapping", scenario.Name)
	}

	h := &Harness{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}

	reg, err := descriptor.Build(scenario.Config)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	st, err := store.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx, reg); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	eng, err := engine.New(ctx, st, reg,
		engine.WithNow(testutil.NewStepClock().Now),
		engine.WithHandleGenerator(&testutil.SequentialHandles{}),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	h.store = st
	h.engine = eng

	result := NewResult()
	for i, unit := range scenario.Units {
		event, err := h.runUnit(ctx, i, unit, result)
		if err != nil {
			return nil, fmt.Errorf("units[%d]: %w", i, err)
		}
		result.Trace = append(result.Trace, event)
	}

	for _, msg := range EvaluateAssertions(ctx, eng, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runUnit(ctx context.Context, index int, unit Unit, result *Result) (TraceEvent, error) {
	u := h.engine.Begin(engine.WithActor(unit.Actor), engine.WithRemoteAddr(unit.RemoteAddr))
	event := TraceEvent{Handle: u.Handle()}

	for j, step := range unit.Steps {
		err := h.apply(ctx, u, step)
		if step.ExpectError != "" {
			if code := errorCode(err); code != step.ExpectError {
				result.AddError(fmt.Sprintf("units[%d].steps[%d]: expected %s error, got %v", index, j, step.ExpectError, err))
				continue
			}
			event.Rejected = append(event.Rejected, fmt.Sprintf("%s %s", step.Op, step.ExpectError))
			continue
		}
		if err != nil {
			result.AddError(fmt.Sprintf("units[%d].steps[%d]: %v", index, j, err))
		}
	}

	if unit.Abort {
		u.Abort()
		event.Aborted = true
		return event, nil
	}

	tx, err := u.Commit(ctx)
	if err != nil {
		return event, err
	}
	event.TransactionID = tx.ID
	if tx.ID == 0 {
		return event, nil
	}

	changed, err := h.engine.ChangedEntities(ctx, tx.ID)
	if err != nil {
		return event, err
	}
	for _, versions := range changed {
		for _, v := range versions {
			event.Versions = append(event.Versions, v.Key().String())
		}
	}
	sort.Strings(event.Versions)
	return event, nil
}

func (h *Harness) apply(ctx context.Context, u *engine.UnitOfWork, step Step) error {
	switch step.Op {
	case OpInsert, OpUpdate, OpDelete:
		var values row.Values
		if step.Values != nil || step.Op != OpDelete {
			v, err := row.ValuesFromGo(step.Values)
			if err != nil {
				return fmt.Errorf("values: %w", err)
			}
			values = v
		}
		switch step.Op {
		case OpInsert:
			return u.Insert(step.Entity, step.ID, values)
		case OpUpdate:
			return u.Update(step.Entity, step.ID, values)
		default:
			return u.Delete(ctx, step.Entity, step.ID, values)
		}
	case OpLink:
		var carried row.Values
		if step.Carried != nil {
			v, err := row.ValuesFromGo(step.Carried)
			if err != nil {
				return fmt.Errorf("carried: %w", err)
			}
			carried = v
		}
		return u.Link(step.Entity, step.Role, step.Owner, step.Partner, carried)
	case OpUnlink:
		return u.Unlink(step.Entity, step.Role, step.Owner, step.Partner)
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

// errorCode returns the HistoryError code of err, or "".
func errorCode(err error) engine.ErrorCode {
	var he *engine.HistoryError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}
