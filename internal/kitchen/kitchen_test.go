package kitchen

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/forno/internal/config"
	"github.com/dyluth/forno/pkg/board"
)

func setupRedis(t *testing.T) *redis.Options {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	return &redis.Options{Addr: mr.Addr()}
}

// fastConfig builds a small kitchen with instantaneous actions: one robot
// per side, two ovens, a camera on sauce.
func fastConfig(t *testing.T, orders int, reliability map[string]float64) *config.KitchenConfig {
	cfg := &config.KitchenConfig{
		Version: "1.0",
		Stations: []config.Station{
			{
				Kind:       config.KindRobot,
				Position:   board.PositionPreOven,
				Operations: []string{"take", "sauce", "sync1", "to_oven", "sync2"},
			},
			{
				Kind:       config.KindRobot,
				Position:   board.PositionPostOven,
				Operations: []string{"bake", "from_oven", "free", "pack"},
			},
			{Kind: config.KindOven, Count: intPtr(2)},
			{Kind: config.KindCamera, Operations: []string{"sauce"}},
		},
		Timing: &config.TimingConfig{
			Durations: map[string]string{
				"take": "1ms", "sauce": "1ms", "to_oven": "1ms",
				"bake": "1ms", "from_oven": "1ms", "pack": "1ms",
			},
			Variation: []float64{1, 1},
		},
		Reliability: reliability,
		Tasks:       []config.Task{{Order: orders}},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func intPtr(n int) *int { return &n }

func TestKitchenShelvesOrders(t *testing.T) {
	opts := setupRedis(t)
	cfg := fastConfig(t, 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	k := New(cfg, opts, "test-kitchen", nil)
	require.NoError(t, k.Run(ctx))

	client, err := board.NewClient(opts, "test-kitchen")
	require.NoError(t, err)
	defer client.Close()
	checkCtx := context.Background()

	states, err := client.AllOrderStates(checkCtx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	for orderID, state := range states {
		assert.Equal(t, board.StateShelf, state, "order %d", orderID)
	}

	// Both orders passed the sauce camera.
	for orderID := 0; orderID < 2; orderID++ {
		quality, err := client.QualityByStage(checkCtx, orderID)
		require.NoError(t, err)
		assert.Contains(t, quality, board.OrderState("sauce"))
	}

	lost, err := client.LostOrders(checkCtx)
	require.NoError(t, err)
	assert.Empty(t, lost)

	free, err := client.FreeOvens(checkCtx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1}, free, "all ovens return to the pool")
}

func TestKitchenStopsWhenASideDies(t *testing.T) {
	opts := setupRedis(t)
	// The only pre-oven robot always fails on take: after its first order
	// the kitchen cannot make progress and must shut itself down well
	// before the outer deadline.
	cfg := fastConfig(t, 3, map[string]float64{"take": 0})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	k := New(cfg, opts, "test-kitchen", nil)
	require.NoError(t, k.Run(ctx))
	assert.Less(t, time.Since(start), 20*time.Second, "operability loss should shut the kitchen down early")

	client, err := board.NewClient(opts, "test-kitchen")
	require.NoError(t, err)
	defer client.Close()
	checkCtx := context.Background()

	lost, err := client.LostOrders(checkCtx)
	require.NoError(t, err)
	assert.Len(t, lost, 1, "the order in the failing robot's hands is lost")

	states, err := client.AllOrderStates(checkCtx)
	require.NoError(t, err)
	for orderID, state := range states {
		assert.NotEqual(t, board.StateShelf, state, "order %d cannot have shelved", orderID)
	}
}
