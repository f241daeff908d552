package board

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeOvenAssignment(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeOvenAssignment(ctx, 4)
	require.NoError(t, err)
	defer sub.Close()

	// Subscribe returns only after the subscription is confirmed, so this
	// publish must be delivered.
	require.NoError(t, client.PublishOvenAssignment(ctx, 4, 2))

	select {
	case ovenID := <-sub.Events():
		assert.Equal(t, 2, ovenID)
	case <-time.After(3 * time.Second):
		t.Fatal("oven assignment was not delivered")
	}
}

func TestSubscribePlacementResult(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("delivers valid results", func(t *testing.T) {
		sub, err := client.SubscribePlacementResult(ctx, 1)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.PublishPlacementResult(ctx, 1, PlacementAborted))

		select {
		case result := <-sub.Events():
			assert.Equal(t, PlacementAborted, result)
		case <-time.After(3 * time.Second):
			t.Fatal("placement result was not delivered")
		}
	})

	t.Run("rejects publishing an unknown result", func(t *testing.T) {
		err := client.PublishPlacementResult(ctx, 1, PlacementResult("bogus"))
		assert.Error(t, err)
	})

	t.Run("routes malformed payloads to Errors", func(t *testing.T) {
		sub, err := client.SubscribePlacementResult(ctx, 2)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.PublishLog(ctx, "noise")) // unrelated channel
		require.NoError(t, client.rdb.Publish(ctx, PlacementChannel(client.instanceName, 2), "bogus").Err())

		select {
		case err := <-sub.Errors():
			assert.Error(t, err)
		case result := <-sub.Events():
			t.Fatalf("malformed payload delivered as result %q", result)
		case <-time.After(3 * time.Second):
			t.Fatal("malformed payload produced no error")
		}
	})
}

func TestSubscribeRobotFailures(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeRobotFailures(ctx)
	require.NoError(t, err)
	defer sub.Close()

	want := RobotFailure{
		EventID:  "5a1e2b3c",
		RobotID:  3,
		Position: PositionPostOven,
		OrderID:  7,
		OvenID:   NoID,
	}
	require.NoError(t, client.PublishRobotFailure(ctx, want))

	select {
	case failure := <-sub.Events():
		assert.Equal(t, &want, failure)
	case <-time.After(3 * time.Second):
		t.Fatal("failure notice was not delivered")
	}
}

func TestSubscribeOperationDone(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeOperationDone(ctx, 1, "sauce")
	require.NoError(t, err)
	defer sub.Close()

	// A notice for a different (robot, operation) pair must not arrive.
	require.NoError(t, client.PublishOperationDone(ctx, OperationDone{RobotID: 2, Operation: "sauce", OrderID: 5}))
	require.NoError(t, client.PublishOperationDone(ctx, OperationDone{RobotID: 1, Operation: "cheese", OrderID: 5}))
	require.NoError(t, client.PublishOperationDone(ctx, OperationDone{RobotID: 1, Operation: "sauce", OrderID: 5}))

	select {
	case done := <-sub.Events():
		assert.Equal(t, &OperationDone{RobotID: 1, Operation: "sauce", OrderID: 5}, done)
	case <-time.After(3 * time.Second):
		t.Fatal("completion notice was not delivered")
	}

	select {
	case done := <-sub.Events():
		t.Fatalf("unexpected extra notice: %+v", done)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeLogs(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeLogs(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.PublishLog(ctx, "robot 0: started"))

	select {
	case msg := <-sub.Events():
		assert.Equal(t, "robot 0: started", msg)
	case <-time.After(3 * time.Second):
		t.Fatal("log message was not delivered")
	}
}

func TestSubscriptionClose(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeLogs(ctx)
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close must be idempotent")

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}
