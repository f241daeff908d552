// Package logsink implements the log display collaborator: it subscribes to
// the instance's log channel and prints timestamped messages. Delivery is
// fire-and-forget; messages published while no sink is subscribed are gone.
package logsink

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/dyluth/forno/pkg/board"
)

var timestampColor = color.New(color.FgCyan)

// Run subscribes to the log channel and prints every message to w until the
// context is cancelled. Returns once the subscription drains.
func Run(ctx context.Context, client *board.Client, w io.Writer) error {
	sub, err := client.SubscribeLogs(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Events():
			if !ok {
				return nil
			}
			Print(w, time.Now(), msg)
		case <-sub.Errors():
			// Log payloads are plain strings; errors here are unreachable.
		}
	}
}

// Print writes one timestamped log line.
func Print(w io.Writer, at time.Time, msg string) {
	fmt.Fprintf(w, "[%s] %s\n", timestampColor.Sprint(at.Format("2006-01-02 15:04:05")), msg)
}
