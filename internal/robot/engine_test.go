package robot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/forno/internal/config"
	"github.com/dyluth/forno/internal/timespec"
	"github.com/dyluth/forno/pkg/board"
)

func setupBoard(t *testing.T) (*board.Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// testTiming makes every action instantaneous so tests run fast.
func testTiming() config.ActionTiming {
	return config.ActionTiming{
		Durations: map[string]time.Duration{},
		Variation: timespec.Range{Min: 1, Max: 1},
	}
}

func script(names ...string) []board.Operation {
	ops := make([]board.Operation, len(names))
	for i, name := range names {
		ops[i] = board.ParseOperation(name)
	}
	return ops
}

// startEngine runs an engine in the background and returns a channel that
// yields its Run error.
func startEngine(ctx context.Context, e *Engine) <-chan error {
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestPreOvenHappyPath(t *testing.T) {
	client, _ := setupBoard(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orderID, err := client.CreateOrder(ctx)
	require.NoError(t, err)

	eng := New(Config{
		ID:         0,
		Position:   board.PositionPreOven,
		Operations: script("take", "sauce", "sync1", "to_oven", "sync2"),
		Timing:     testTiming(),
	}, client)

	// Fake post-oven partner: serve the bake request with oven 5 and wait
	// for the placement result.
	partner := make(chan board.PlacementResult, 1)
	go func() {
		reqID, err := client.DequeueBakeRequest(ctx)
		if err != nil {
			return
		}
		sub, err := client.SubscribePlacementResult(ctx, 5)
		if err != nil {
			return
		}
		defer sub.Close()
		if err := client.PublishOvenAssignment(ctx, reqID, 5); err != nil {
			return
		}
		partner <- <-sub.Events()
	}()

	done := startEngine(ctx, eng)

	select {
	case result := <-partner:
		assert.Equal(t, board.PlacementOK, result)
	case <-time.After(10 * time.Second):
		t.Fatal("placement was never confirmed")
	}

	require.Eventually(t, func() bool {
		state, err := client.GetOrderState(context.Background(), orderID)
		return err == nil && state == board.OrderState("sync2")
	}, 5*time.Second, 10*time.Millisecond, "order should end on the confirm step")

	cancel()
	waitDone(t, done)
}

func TestBreakBetweenOrders(t *testing.T) {
	client, _ := setupBoard(t)
	ctx := context.Background()

	failures, err := client.SubscribeRobotFailures(ctx)
	require.NoError(t, err)
	defer failures.Close()

	require.NoError(t, client.RequestBreak(ctx, 0))

	eng := New(Config{
		ID:         0,
		Position:   board.PositionPreOven,
		Operations: script("take", "sync1", "to_oven", "sync2"),
		Timing:     testTiming(),
	}, client)

	// The pending break is honored before any order is taken up.
	done := startEngine(ctx, eng)
	waitDone(t, done)

	select {
	case failure := <-failures.Events():
		assert.Equal(t, 0, failure.RobotID)
		assert.Equal(t, board.PositionPreOven, failure.Position)
		assert.Equal(t, board.NoID, failure.OrderID)
		assert.Equal(t, board.NoID, failure.OvenID)
		assert.NotEmpty(t, failure.EventID)
	case <-time.After(5 * time.Second):
		t.Fatal("no failure notice published")
	}
}

func TestSpontaneousFailureDiscardsOrder(t *testing.T) {
	client, _ := setupBoard(t)
	ctx := context.Background()

	orderID, err := client.CreateOrder(ctx)
	require.NoError(t, err)

	failures, err := client.SubscribeRobotFailures(ctx)
	require.NoError(t, err)
	defer failures.Close()

	eng := New(Config{
		ID:          3,
		Position:    board.PositionPreOven,
		Operations:  script("take", "sauce", "sync1", "to_oven", "sync2"),
		Timing:      testTiming(),
		Reliability: map[string]float64{"take": 0}, // always fails
	}, client)

	done := startEngine(ctx, eng)
	waitDone(t, done)

	select {
	case failure := <-failures.Events():
		assert.Equal(t, 3, failure.RobotID)
		assert.Equal(t, orderID, failure.OrderID)
		assert.Equal(t, board.NoID, failure.OvenID)
	case <-time.After(5 * time.Second):
		t.Fatal("no failure notice published")
	}

	_, err = client.GetOrderState(ctx, orderID)
	assert.True(t, board.IsNotFound(err), "lost order should be gone from the state hash")

	lost, err := client.LostOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{orderID}, lost)
}

func TestFailureDuringPlacementShutsOvenDown(t *testing.T) {
	client, _ := setupBoard(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orderID, err := client.CreateOrder(ctx)
	require.NoError(t, err)

	eng := New(Config{
		ID:          0,
		Position:    board.PositionPreOven,
		Operations:  script("take", "sync1", "to_oven", "sync2"),
		Timing:      testTiming(),
		Reliability: map[string]float64{"to_oven": 0}, // fails mid-placement
	}, client)

	// Fake post-oven partner holding oven 2.
	partner := make(chan board.PlacementResult, 1)
	go func() {
		reqID, err := client.DequeueBakeRequest(ctx)
		if err != nil {
			return
		}
		sub, err := client.SubscribePlacementResult(ctx, 2)
		if err != nil {
			return
		}
		defer sub.Close()
		if err := client.PublishOvenAssignment(ctx, reqID, 2); err != nil {
			return
		}
		partner <- <-sub.Events()
	}()

	done := startEngine(ctx, eng)
	waitDone(t, done)

	select {
	case result := <-partner:
		assert.Equal(t, board.PlacementFailsafe, result, "partner must learn the placement failed")
	case <-time.After(10 * time.Second):
		t.Fatal("no placement result delivered")
	}

	failsafe, err := client.IsOvenFailsafe(ctx, 2)
	require.NoError(t, err)
	assert.True(t, failsafe, "an oven with unknown contents must be shut down")

	assert.ErrorIs(t, client.ReleaseOven(ctx, 2), board.ErrOvenFailsafe)

	lost, err := client.LostOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{orderID}, lost)
}

func TestShutdownWhileAwaitingOvenDiscardsOrder(t *testing.T) {
	client, mr := setupBoard(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orderID, err := client.CreateOrder(ctx)
	require.NoError(t, err)

	eng := New(Config{
		ID:         0,
		Position:   board.PositionPreOven,
		Operations: script("take", "sync1", "to_oven", "sync2"),
		Timing:     testTiming(),
	}, client)

	done := startEngine(ctx, eng)

	// Wait until the robot is queued for an oven, then shut down with no
	// post-oven robot around to serve it.
	require.Eventually(t, func() bool {
		return mr.Exists(board.BakeQueueKey("test-instance"))
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	waitDone(t, done)

	_, err = client.GetOrderState(context.Background(), orderID)
	assert.True(t, board.IsNotFound(err))

	lost, err := client.LostOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{orderID}, lost)

	assert.False(t, mr.Exists(board.BakeQueueKey("test-instance")), "withdrawn request must leave the queue")
}

func TestPostOvenAbortedPlacementReturnsOven(t *testing.T) {
	client, _ := setupBoard(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.AddFreeOven(ctx, 0))

	eng := New(Config{
		ID:         1,
		Position:   board.PositionPostOven,
		Operations: script("bake", "from_oven", "free", "pack"),
		Timing:     testTiming(),
	}, client)

	// Fake pre-oven partner that aborts once an oven is assigned.
	aborted := make(chan struct{})
	go func() {
		sub, err := client.SubscribeOvenAssignment(ctx, 9)
		if err != nil {
			return
		}
		defer sub.Close()
		if err := client.EnqueueBakeRequest(ctx, 9); err != nil {
			return
		}
		ovenID := <-sub.Events()
		if client.PublishPlacementResult(ctx, ovenID, board.PlacementAborted) == nil {
			close(aborted)
		}
	}()

	done := startEngine(ctx, eng)

	select {
	case <-aborted:
	case <-time.After(10 * time.Second):
		t.Fatal("no oven was ever assigned")
	}

	// The released oven is immediately re-acquired as the robot's next idle
	// reservation, so the free pool is not a stable observable here. What
	// must hold: the abort shut nothing down, and the oven can serve a
	// second rendezvous.
	n, err := client.FailsafeCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "an aborted placement must not shut the oven down")

	second := make(chan int, 1)
	go func() {
		sub, err := client.SubscribeOvenAssignment(ctx, 10)
		if err != nil {
			return
		}
		defer sub.Close()
		if err := client.EnqueueBakeRequest(ctx, 10); err != nil {
			return
		}
		ovenID := <-sub.Events()
		_ = client.PublishPlacementResult(ctx, ovenID, board.PlacementAborted)
		second <- ovenID
	}()

	select {
	case ovenID := <-second:
		assert.Equal(t, 0, ovenID, "the returned oven serves the next request")
	case <-time.After(10 * time.Second):
		t.Fatal("the oven never served a second rendezvous")
	}

	cancel()
	waitDone(t, done)

	free, err := client.FreeOvens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, free, "the untouched reservation is handed back on shutdown")
}

func TestHandoffEndToEnd(t *testing.T) {
	client, _ := setupBoard(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.AddFreeOven(ctx, 0))
	orderID, err := client.CreateOrder(ctx)
	require.NoError(t, err)

	pre := New(Config{
		ID:         0,
		Position:   board.PositionPreOven,
		Operations: script("take", "sauce", "cheese", "sync1", "to_oven", "sync2"),
		Timing:     testTiming(),
	}, client)
	post := New(Config{
		ID:         1,
		Position:   board.PositionPostOven,
		Operations: script("bake", "from_oven", "free", "slice", "pack", "put"),
		Timing:     testTiming(),
	}, client)

	preDone := startEngine(ctx, pre)
	postDone := startEngine(ctx, post)

	require.Eventually(t, func() bool {
		state, err := client.GetOrderState(context.Background(), orderID)
		return err == nil && state == board.StateShelf
	}, 10*time.Second, 10*time.Millisecond, "order should travel freezer to shelf")

	cancel()
	waitDone(t, preDone)
	waitDone(t, postDone)

	free, err := client.FreeOvens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, free, "the oven should be back in the pool")

	lost, err := client.LostOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lost)
}

func TestHandoffServesBakeRequestsInOrder(t *testing.T) {
	client, mr := setupBoard(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queueLen := func() int {
		reqs, err := mr.List(board.BakeQueueKey("test-instance"))
		if err != nil {
			return 0
		}
		return len(reqs)
	}

	// Robot 0 takes the first order and reaches sync1 first.
	orderA, err := client.CreateOrder(ctx)
	require.NoError(t, err)
	preA := New(Config{
		ID:         0,
		Position:   board.PositionPreOven,
		Operations: script("take", "sync1", "to_oven", "sync2"),
		Timing:     testTiming(),
	}, client)
	doneA := startEngine(ctx, preA)

	require.Eventually(t, func() bool { return queueLen() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Robot 1 queues behind it with the second order.
	orderB, err := client.CreateOrder(ctx)
	require.NoError(t, err)
	preB := New(Config{
		ID:         1,
		Position:   board.PositionPreOven,
		Operations: script("take", "sync1", "to_oven", "sync2"),
		Timing:     testTiming(),
	}, client)
	doneB := startEngine(ctx, preB)

	require.Eventually(t, func() bool { return queueLen() == 2 }, 5*time.Second, 10*time.Millisecond)

	// Fake post-oven side serving one request at a time with ovens 0 and 1.
	var served []int
	for _, ovenID := range []int{0, 1} {
		reqID, err := client.DequeueBakeRequest(ctx)
		require.NoError(t, err)

		sub, err := client.SubscribePlacementResult(ctx, ovenID)
		require.NoError(t, err)
		require.NoError(t, client.PublishOvenAssignment(ctx, reqID, ovenID))

		select {
		case result := <-sub.Events():
			assert.Equal(t, board.PlacementOK, result)
		case <-time.After(10 * time.Second):
			t.Fatalf("no placement result for oven %d", ovenID)
		}
		sub.Close()
		served = append(served, reqID)
	}

	assert.Equal(t, []int{orderA, orderB}, served, "the earliest-queued order gets the first oven")

	cancel()
	waitDone(t, doneA)
	waitDone(t, doneB)
}

func TestBreakDeferredWhileHoldingOven(t *testing.T) {
	client, _ := setupBoard(t)
	ctx := context.Background()

	eng := New(Config{
		ID:         0,
		Position:   board.PositionPreOven,
		Operations: script("take", "sync1", "to_oven", "sync2"),
		Timing:     testTiming(),
	}, client)
	eng.bg = ctx
	eng.orderID = 4

	require.NoError(t, client.RequestBreak(ctx, 0))

	t.Run("break ignored while an oven is held", func(t *testing.T) {
		eng.ovenID = 2
		err := eng.physical(board.ParseOperation("to_oven"))
		assert.NoError(t, err, "the placement window defers the break")

		n, err := client.FailsafeCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "a deferred break must never shut an oven down")
	})

	t.Run("break honored at the next unprotected step", func(t *testing.T) {
		eng.ovenID = board.NoID
		err := eng.physical(board.ParseOperation("pack"))
		assert.ErrorIs(t, err, errHalt)

		lost, err := client.LostOrders(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{4}, lost, "the held order is lost when the break fires")
	})
}
