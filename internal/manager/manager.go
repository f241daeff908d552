// Package manager implements the order-creation driver: a scripted
// collaborator that creates orders and requests robot breaks on a schedule,
// then exits. It is the only component that allocates order IDs.
package manager

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/forno/internal/config"
	"github.com/dyluth/forno/internal/timespec"
	"github.com/dyluth/forno/pkg/board"
)

// Manager executes a task list against the board.
type Manager struct {
	tasks  []config.Task
	client *board.Client
}

// New creates a manager for the given task list.
func New(tasks []config.Task, client *board.Client) *Manager {
	return &Manager{tasks: tasks, client: client}
}

// Run executes the tasks in order and returns. Context cancellation stops
// the script between tasks.
func (m *Manager) Run(ctx context.Context) error {
	m.logf(ctx, "started")
	defer m.logf(context.WithoutCancel(ctx), "stopped")

	for _, task := range m.tasks {
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case task.Order > 0:
			for i := 0; i < task.Order; i++ {
				orderID, err := m.client.CreateOrder(ctx)
				if err != nil {
					return fmt.Errorf("failed to create order: %w", err)
				}
				m.logf(ctx, "created a new order %d", orderID)
			}

		case task.Sleep != "":
			// Validated at startup; a parse failure here is a bug.
			d, err := timespec.Parse(task.Sleep)
			if err != nil {
				return err
			}
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil
			}

		case task.Break != nil:
			if err := m.client.RequestBreak(ctx, *task.Break); err != nil {
				return fmt.Errorf("failed to request break: %w", err)
			}
			m.logf(ctx, "requested break of robot %d", *task.Break)
		}
	}
	return nil
}

func (m *Manager) logf(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[Manager] %s", msg)
	_ = m.client.PublishLog(ctx, "manager: "+msg)
}
