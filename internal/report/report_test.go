package report

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/forno/pkg/board"
)

func setupBoard(t *testing.T) *board.Client {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func seedBoard(t *testing.T, client *board.Client) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, client.SetOrderState(ctx, 0, board.StateShelf))
	require.NoError(t, client.SetOrderState(ctx, 1, board.StateShelf))
	require.NoError(t, client.SetOrderState(ctx, 2, board.OrderState("bake")))
	require.NoError(t, client.SetQuality(ctx, 0, "sauce", 0.97))
	require.NoError(t, client.SetQuality(ctx, 0, "slice", 0.88))

	// Order 3 was lost to a robot failure.
	require.NoError(t, client.SetOrderState(ctx, 3, board.OrderState("cheese")))
	require.NoError(t, client.DiscardOrder(ctx, 3))
}

func TestBuild(t *testing.T) {
	client := setupBoard(t)
	seedBoard(t, client)

	r, err := Build(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, map[int]board.OrderState{
		0: board.StateShelf,
		1: board.StateShelf,
		2: "bake",
	}, r.StateByOrder)

	assert.Equal(t, []int{0, 1}, r.OrdersByState[board.StateShelf])
	assert.Equal(t, []int{2}, r.OrdersByState["bake"])

	assert.Equal(t, map[board.OrderState]float64{
		"sauce": 0.97,
		"slice": 0.88,
	}, r.QualityByOrder[0])
	assert.Empty(t, r.QualityByOrder[2])

	assert.Equal(t, []int{3}, r.LostOrders)
	assert.Equal(t, []int{0, 1}, r.Shelved())
}

func TestFormatTable(t *testing.T) {
	client := setupBoard(t)

	t.Run("empty board", func(t *testing.T) {
		r, err := Build(context.Background(), client)
		require.NoError(t, err)

		var buf bytes.Buffer
		n := FormatTable(&buf, r, "test-instance")
		assert.Zero(t, n)
		assert.Contains(t, buf.String(), "No orders found")
	})

	t.Run("populated board", func(t *testing.T) {
		seedBoard(t, client)
		r, err := Build(context.Background(), client)
		require.NoError(t, err)

		var buf bytes.Buffer
		n := FormatTable(&buf, r, "test-instance")
		assert.Equal(t, 3, n)

		out := buf.String()
		assert.Contains(t, out, "ORDER")
		assert.Contains(t, out, "shelf")
		assert.Contains(t, out, "sauce=0.97")
		assert.Contains(t, out, "3 orders found, 2 shelved, 1 lost")
	})
}

func TestFormatJSON(t *testing.T) {
	client := setupBoard(t)
	seedBoard(t, client)

	r, err := Build(context.Background(), client)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, FormatJSON(&buf, r))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "state_by_order")
	assert.Contains(t, decoded, "orders_by_state")
	assert.Contains(t, decoded, "lost_orders")
}
