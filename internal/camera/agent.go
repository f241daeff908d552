// Package camera implements the quality camera agent: a passive observer
// bound 1:1 to a (robot, operation) pair. It scores each completed
// operation it is told about and stops for good when its robot fails.
package camera

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/dyluth/forno/pkg/board"
)

// Agent is one quality camera.
type Agent struct {
	robotID   int
	operation string
	client    *board.Client
	rng       *rand.Rand
	ready     chan struct{}
}

// New creates a camera watching the given robot's operation.
func New(robotID int, operation string, client *board.Client) *Agent {
	return &Agent{
		robotID:   robotID,
		operation: operation,
		client:    client,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(robotID)<<16)),
		ready:     make(chan struct{}),
	}
}

// Ready is closed once both subscriptions are live. Robots must not start
// before every camera is ready, or early completion notices would be lost.
func (a *Agent) Ready() <-chan struct{} {
	return a.ready
}

// Run subscribes to the pair's completion notices and the failure channel,
// then scores every completion until the robot fails or the context is
// cancelled. Both subscriptions are live before Run's caller may start the
// robot, so no notice can be missed.
func (a *Agent) Run(ctx context.Context) error {
	done, err := a.client.SubscribeOperationDone(ctx, a.robotID, a.operation)
	if err != nil {
		return err
	}
	defer done.Close()

	failures, err := a.client.SubscribeRobotFailures(ctx)
	if err != nil {
		return err
	}
	defer failures.Close()

	close(a.ready)

	// Writes survive shutdown cancellation so a notice already received is
	// still scored.
	bg := context.WithoutCancel(ctx)
	a.logf(bg, "started")
	defer a.logf(bg, "stopped")

	for {
		select {
		case <-ctx.Done():
			return nil

		case notice, ok := <-done.Events():
			if !ok {
				return nil
			}
			score := a.assess()
			if err := a.client.SetQuality(bg, notice.OrderID, board.OrderState(a.operation), score); err != nil {
				return err
			}
			a.logf(bg, "quality of order %d is %.2f", notice.OrderID, score)

		case failure, ok := <-failures.Events():
			if !ok {
				return nil
			}
			if failure.RobotID == a.robotID {
				// The watched robot is permanently down; nothing left to score.
				a.logf(bg, "robot %d failed, shutting down", a.robotID)
				return nil
			}

		case err, ok := <-done.Errors():
			if ok && err != nil {
				log.Printf("[Camera %s/%d] subscription error: %v", a.operation, a.robotID, err)
			}

		case err, ok := <-failures.Errors():
			if ok && err != nil {
				log.Printf("[Camera %s/%d] subscription error: %v", a.operation, a.robotID, err)
			}
		}
	}
}

// assess simulates a quality checkup: a normal distribution around perfect,
// clamped to [0,1].
func (a *Agent) assess() float64 {
	score := a.rng.NormFloat64()*0.1 + 1.0
	return max(0.0, min(1.0, score))
}

func (a *Agent) logf(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[Camera %s/%d] %s", a.operation, a.robotID, msg)
	_ = a.client.PublishLog(ctx, fmt.Sprintf("camera %q robot %d: %s", a.operation, a.robotID, msg))
}
