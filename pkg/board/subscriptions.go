package board

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Typed pub/sub subscriptions.
//
// Each subscription owns a goroutine that forwards parsed payloads into a
// buffered events channel. Delivery is at-most-once and only to subscribers
// live at publish time; every Subscribe method waits for the server's
// subscription confirmation before returning, which is what lets the handoff
// protocol subscribe-then-trigger safely.
//
// Callers must Close() subscriptions when done. Close is idempotent.

// AssignmentSubscription delivers the oven ID assigned to one order (sync1).
type AssignmentSubscription struct {
	events <-chan int
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of assigned oven IDs.
func (s *AssignmentSubscription) Events() <-chan int { return s.events }

// Errors returns the channel of non-fatal subscription errors.
func (s *AssignmentSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Implements io.Closer.
func (s *AssignmentSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeOvenAssignment subscribes to the sync1 reply channel for an
// order. The pre-oven robot calls this before enqueueing its bake request.
func (c *Client) SubscribeOvenAssignment(ctx context.Context, orderID int) (*AssignmentSubscription, error) {
	pubsub, err := c.subscribe(ctx, OvenAssignChannel(c.instanceName, orderID))
	if err != nil {
		return nil, err
	}
	events, errs, cancel := pump(ctx, pubsub, strconv.Atoi)
	return &AssignmentSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// PlacementSubscription delivers the placement result for one oven (sync2).
type PlacementSubscription struct {
	events <-chan PlacementResult
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of placement results.
func (s *PlacementSubscription) Events() <-chan PlacementResult { return s.events }

// Errors returns the channel of non-fatal subscription errors.
func (s *PlacementSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Implements io.Closer.
func (s *PlacementSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribePlacementResult subscribes to the sync2 channel for an oven. The
// post-oven robot calls this before publishing the oven assignment, so the
// pre-oven side cannot plausibly have published yet.
func (c *Client) SubscribePlacementResult(ctx context.Context, ovenID int) (*PlacementSubscription, error) {
	pubsub, err := c.subscribe(ctx, PlacementChannel(c.instanceName, ovenID))
	if err != nil {
		return nil, err
	}
	events, errs, cancel := pump(ctx, pubsub, func(payload string) (PlacementResult, error) {
		result := PlacementResult(payload)
		if err := result.Validate(); err != nil {
			return "", err
		}
		return result, nil
	})
	return &PlacementSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// FailureSubscription delivers robot failure notices.
type FailureSubscription struct {
	events <-chan *RobotFailure
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of failure notices.
func (s *FailureSubscription) Events() <-chan *RobotFailure { return s.events }

// Errors returns the channel of non-fatal subscription errors.
func (s *FailureSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Implements io.Closer.
func (s *FailureSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeRobotFailures subscribes to the failure channel. All robot
// failures of the instance arrive here; consumers filter by robot ID.
func (c *Client) SubscribeRobotFailures(ctx context.Context) (*FailureSubscription, error) {
	pubsub, err := c.subscribe(ctx, RobotFailuresChannel(c.instanceName))
	if err != nil {
		return nil, err
	}
	events, errs, cancel := pump(ctx, pubsub, func(payload string) (*RobotFailure, error) {
		var failure RobotFailure
		if err := json.Unmarshal([]byte(payload), &failure); err != nil {
			return nil, fmt.Errorf("failed to unmarshal robot failure: %w", err)
		}
		return &failure, nil
	})
	return &FailureSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// DoneSubscription delivers completion notices for one (robot, operation)
// pair.
type DoneSubscription struct {
	events <-chan *OperationDone
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of completion notices.
func (s *DoneSubscription) Events() <-chan *OperationDone { return s.events }

// Errors returns the channel of non-fatal subscription errors.
func (s *DoneSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Implements io.Closer.
func (s *DoneSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeOperationDone subscribes to completion notices for a
// (robot, operation) pair. Cameras subscribe before their robot starts.
func (c *Client) SubscribeOperationDone(ctx context.Context, robotID int, operation string) (*DoneSubscription, error) {
	pubsub, err := c.subscribe(ctx, OperationDoneChannel(c.instanceName, robotID, operation))
	if err != nil {
		return nil, err
	}
	events, errs, cancel := pump(ctx, pubsub, func(payload string) (*OperationDone, error) {
		var done OperationDone
		if err := json.Unmarshal([]byte(payload), &done); err != nil {
			return nil, fmt.Errorf("failed to unmarshal completion notice: %w", err)
		}
		return &done, nil
	})
	return &DoneSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// LogSubscription delivers free-text operational log messages.
type LogSubscription struct {
	events <-chan string
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of log messages.
func (s *LogSubscription) Events() <-chan string { return s.events }

// Errors returns the channel of non-fatal subscription errors.
func (s *LogSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Implements io.Closer.
func (s *LogSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeLogs subscribes to the instance's log channel.
func (c *Client) SubscribeLogs(ctx context.Context) (*LogSubscription, error) {
	pubsub, err := c.subscribe(ctx, LogChannel(c.instanceName))
	if err != nil {
		return nil, err
	}
	events, errs, cancel := pump(ctx, pubsub, func(payload string) (string, error) {
		return payload, nil
	})
	return &LogSubscription{events: events, errors: errs, cancel: cancel}, nil
}
