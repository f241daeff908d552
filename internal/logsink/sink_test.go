package logsink

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/forno/pkg/board"
)

// syncBuffer makes bytes.Buffer safe for the sink goroutine and the test to
// share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	Print(&buf, at, "robot 0: started")

	assert.Contains(t, buf.String(), "2026-03-14 15:09:26")
	assert.Contains(t, buf.String(), "robot 0: started")
}

func TestRunPrintsPublishedMessages(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf syncBuffer
	done := make(chan error, 1)
	go func() { done <- Run(ctx, client, &buf) }()

	// The subscription inside Run races with the publish; retry until the
	// sink is provably listening.
	require.Eventually(t, func() bool {
		_ = client.PublishLog(context.Background(), "manager: started")
		return bytes.Contains([]byte(buf.String()), []byte("manager: started"))
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not stop")
	}
}
