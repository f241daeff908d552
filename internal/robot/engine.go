// Package robot implements the robot agent: an independent worker that
// pulls orders from the board's stage queues, executes its operation script
// and drives its side of the oven handoff protocol. Robots never talk to
// each other directly; every interaction goes through the board.
package robot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/forno/internal/config"
	"github.com/dyluth/forno/pkg/board"
)

// errHalt signals that the robot stopped permanently: it broke, or the
// kitchen is shutting down. Run translates it into a clean return.
var errHalt = errors.New("robot halted")

// Config is the runtime configuration of one robot instance.
type Config struct {
	ID          int
	Position    board.Position
	Operations  []board.Operation
	Timing      config.ActionTiming
	Reliability map[string]float64 // per-operation, missing means flawless
}

// Engine is the operation engine of a single robot. It owns no shared
// in-process state: the board is its only link to the rest of the kitchen.
type Engine struct {
	cfg    Config
	client *board.Client
	rng    *rand.Rand

	// bg survives shutdown cancellation: a robot finishes the order in its
	// hands, so mid-script store writes must not be cut off.
	bg context.Context

	orderID int // held order, board.NoID while idle
	ovenID  int // held oven reservation, board.NoID while none
}

// New creates a robot engine. The rng seed incorporates the robot ID so
// concurrently created robots do not share a failure sequence.
func New(cfg Config, client *board.Client) *Engine {
	return &Engine{
		cfg:     cfg,
		client:  client,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ID))),
		orderID: board.NoID,
		ovenID:  board.NoID,
	}
}

// Run executes the robot's acquire/execute loop until the robot breaks or
// the context is cancelled. Cancellation forbids taking new work; an order
// already in hand is finished first.
func (e *Engine) Run(ctx context.Context) error {
	e.bg = context.WithoutCancel(ctx)
	e.logf("started")
	defer e.logf("stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		// Between orders the robot is idle and eligible to break.
		broken, err := e.honorPendingBreak()
		if err != nil {
			return err
		}
		if broken {
			return nil
		}

		switch e.cfg.Position {
		case board.PositionPreOven:
			err = e.runPreOven(ctx)
		case board.PositionPostOven:
			err = e.runPostOven(ctx)
		}
		if err != nil {
			if errors.Is(err, errHalt) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("robot %d: %w", e.cfg.ID, err)
		}
	}
}

// honorPendingBreak checks the pending-break set and, if this robot is
// listed, breaks it down. Only called at eligible boundaries: between
// orders, or at a physical step boundary while no oven is held.
func (e *Engine) honorPendingBreak() (bool, error) {
	requested, err := e.client.BreakRequested(e.bg, e.cfg.ID)
	if err != nil {
		return false, err
	}
	if !requested {
		return false, nil
	}
	return true, e.breakDown()
}

// breakDown is the robot's final act: it discards the order in hand, applies
// the oven failsafe if it held an oven, publishes its failure notice exactly
// once and never works again.
func (e *Engine) breakDown() error {
	e.logf("failure")

	if e.ovenID != board.NoID {
		// The oven contents cannot be trusted after an unconfirmed
		// placement or an interrupted bake: shut the oven down for good.
		if err := e.client.FailsafeOven(e.bg, e.ovenID); err != nil {
			return err
		}
		if e.cfg.Position == board.PositionPreOven {
			// Unblock the post-oven partner waiting on sync2.
			if err := e.client.PublishPlacementResult(e.bg, e.ovenID, board.PlacementFailsafe); err != nil {
				return err
			}
		}
	}

	if e.orderID != board.NoID {
		if err := e.client.DiscardOrder(e.bg, e.orderID); err != nil {
			return err
		}
	}

	failure := board.RobotFailure{
		EventID:  uuid.New().String(),
		RobotID:  e.cfg.ID,
		Position: e.cfg.Position,
		OrderID:  e.orderID,
		OvenID:   e.ovenID,
	}
	e.orderID = board.NoID
	e.ovenID = board.NoID
	return e.client.PublishRobotFailure(e.bg, failure)
}

// executeOp runs one script entry against the held order: state transition,
// the action itself, then the completion notice.
func (e *Engine) executeOp(op board.Operation) error {
	if err := e.client.SetOrderState(e.bg, e.orderID, board.OrderState(op.Name)); err != nil {
		return err
	}
	e.logf("start %q on order %d", op.Name, e.orderID)

	switch op.Kind {
	case board.OpConfirmPlacement:
		if err := e.confirmPlacement(); err != nil {
			return err
		}
	case board.OpReleaseOven:
		if err := e.releaseOven(); err != nil {
			return err
		}
	default:
		if err := e.physical(op); err != nil {
			return err
		}
	}

	e.logf("done %q on order %d", op.Name, e.orderID)
	return e.client.PublishOperationDone(e.bg, board.OperationDone{
		RobotID:   e.cfg.ID,
		Operation: op.Name,
		OrderID:   e.orderID,
	})
}

// physical simulates one physical action: honor a pending break at the step
// boundary (unless an oven is held, in which case the break is deferred past
// the protected window), take simulated time, then roll for spontaneous
// failure.
func (e *Engine) physical(op board.Operation) error {
	if e.ovenID == board.NoID {
		broken, err := e.honorPendingBreak()
		if err != nil {
			return err
		}
		if broken {
			return errHalt
		}
	}

	time.Sleep(e.actionDuration(op.Name))

	if reliability, ok := e.cfg.Reliability[op.Name]; ok && reliability < 1 {
		if e.rng.Float64() >= reliability {
			// Spontaneous physical failure mid-action.
			if err := e.breakDown(); err != nil {
				return err
			}
			return errHalt
		}
	}
	return nil
}

func (e *Engine) actionDuration(action string) time.Duration {
	base := e.cfg.Timing.Durations[action]
	if base == 0 {
		return 0
	}
	v := e.cfg.Timing.Variation
	factor := v.Min + e.rng.Float64()*(v.Max-v.Min)
	return time.Duration(float64(base) * factor)
}

// logf logs locally and publishes the same line to the board's log channel.
func (e *Engine) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[Robot %d] %s", e.cfg.ID, msg)
	// Fire and forget: a missing log sink must never stall a robot.
	_ = e.client.PublishLog(e.bg, fmt.Sprintf("robot %d: %s", e.cfg.ID, msg))
}
