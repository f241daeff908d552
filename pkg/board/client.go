package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrOvenFailsafe is returned by ReleaseOven for an oven that has been
// failsafe-shut-down. Such an oven never returns to the free pool.
var ErrOvenFailsafe = errors.New("oven is failsafe-shut-down")

// Client provides instance-scoped Redis operations for the kitchen board.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple
// goroutines, but each agent normally owns its own client so that agents
// stay independently failable.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new board client for the specified kitchen instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	// Blocking pops are the agents' cancellation points, so commands must
	// honor context deadlines and cancellation.
	opts := *redisOpts
	opts.ContextTimeoutEnabled = true
	redisOpts = &opts

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// InstanceName returns the kitchen instance this client is scoped to.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Reset deletes every key in this instance's namespace. Called once before
// a run so a reused instance name starts from a clean board.
func (c *Client) Reset(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, KeyPrefix(c.instanceName)+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan instance keyspace: %w", err)
	}
	return nil
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// --- Orders ---

// NewOrderID allocates an order ID: a recycled ID of a lost order if one is
// available, otherwise the next value of the incrementing counter. Only the
// manager allocates IDs, so the two steps need no cross-client atomicity.
func (c *Client) NewOrderID(ctx context.Context) (int, error) {
	recycled, err := c.rdb.LPop(ctx, OrderFreeIDsKey(c.instanceName)).Result()
	if err == nil {
		return strconv.Atoi(recycled)
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to pop recycled order ID: %w", err)
	}

	next, err := c.rdb.Incr(ctx, OrderCounterKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment order counter: %w", err)
	}
	// Counter starts at 1, order IDs at 0.
	return int(next) - 1, nil
}

// CreateOrder allocates an ID, records the order in state freezer and pushes
// it onto the freezer queue. Returns the new order's ID.
func (c *Client) CreateOrder(ctx context.Context) (int, error) {
	orderID, err := c.NewOrderID(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.SetOrderState(ctx, orderID, StateFreezer); err != nil {
		return 0, err
	}
	if err := c.EnqueueOrder(ctx, StateFreezer, orderID); err != nil {
		return 0, err
	}
	return orderID, nil
}

// SetOrderState records the order's current state. A single atomic hash
// write, so no torn state is ever observable.
func (c *Client) SetOrderState(ctx context.Context, orderID int, state OrderState) error {
	key := OrderStateKey(c.instanceName)
	if err := c.rdb.HSet(ctx, key, strconv.Itoa(orderID), string(state)).Err(); err != nil {
		return fmt.Errorf("failed to set state of order %d: %w", orderID, err)
	}
	return nil
}

// GetOrderState returns the order's current state.
// Returns redis.Nil (check with IsNotFound) for an unknown order.
func (c *Client) GetOrderState(ctx context.Context, orderID int) (OrderState, error) {
	state, err := c.rdb.HGet(ctx, OrderStateKey(c.instanceName), strconv.Itoa(orderID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", err
		}
		return "", fmt.Errorf("failed to get state of order %d: %w", orderID, err)
	}
	return OrderState(state), nil
}

// AllOrderStates returns the full order-state mapping.
func (c *Client) AllOrderStates(ctx context.Context) (map[int]OrderState, error) {
	raw, err := c.rdb.HGetAll(ctx, OrderStateKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read order states: %w", err)
	}
	states := make(map[int]OrderState, len(raw))
	for field, value := range raw {
		orderID, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid order ID field %q: %w", field, err)
		}
		states[orderID] = OrderState(value)
	}
	return states, nil
}

// SetQuality records the quality score of an order at the given stage.
// Scores are only ever added, never removed, while an order is alive.
func (c *Client) SetQuality(ctx context.Context, orderID int, stage OrderState, score float64) error {
	key := OrderQualityKey(c.instanceName, orderID)
	if err := c.rdb.HSet(ctx, key, string(stage), strconv.FormatFloat(score, 'f', -1, 64)).Err(); err != nil {
		return fmt.Errorf("failed to set quality of order %d at %s: %w", orderID, stage, err)
	}
	return nil
}

// QualityByStage returns the order's quality map. Empty map if no stage has
// been scored yet (not an error).
func (c *Client) QualityByStage(ctx context.Context, orderID int) (map[OrderState]float64, error) {
	raw, err := c.rdb.HGetAll(ctx, OrderQualityKey(c.instanceName, orderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quality of order %d: %w", orderID, err)
	}
	quality := make(map[OrderState]float64, len(raw))
	for stage, value := range raw {
		score, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid quality score %q for order %d: %w", value, orderID, err)
		}
		quality[OrderState(stage)] = score
	}
	return quality, nil
}

// CompleteOrder moves the order to the terminal shelf state. The state and
// quality records are retained for reporting.
func (c *Client) CompleteOrder(ctx context.Context, orderID int) error {
	return c.SetOrderState(ctx, orderID, StateShelf)
}

// DiscardOrder removes a physically lost order: its state field and quality
// hash are deleted, the loss is recorded for reporting and the ID becomes
// eligible for reuse by a later order.
func (c *Client) DiscardOrder(ctx context.Context, orderID int) error {
	field := strconv.Itoa(orderID)
	if err := c.rdb.HDel(ctx, OrderStateKey(c.instanceName), field).Err(); err != nil {
		return fmt.Errorf("failed to delete state of order %d: %w", orderID, err)
	}
	if err := c.rdb.Del(ctx, OrderQualityKey(c.instanceName, orderID)).Err(); err != nil {
		return fmt.Errorf("failed to delete quality of order %d: %w", orderID, err)
	}
	if err := c.rdb.RPush(ctx, OrderLostKey(c.instanceName), field).Err(); err != nil {
		return fmt.Errorf("failed to record lost order %d: %w", orderID, err)
	}
	if err := c.rdb.RPush(ctx, OrderFreeIDsKey(c.instanceName), field).Err(); err != nil {
		return fmt.Errorf("failed to recycle ID of order %d: %w", orderID, err)
	}
	return nil
}

// LostOrders returns the IDs of orders lost to robot failures, in loss order.
func (c *Client) LostOrders(ctx context.Context) ([]int, error) {
	return c.intList(ctx, OrderLostKey(c.instanceName))
}

// --- Stage queues ---

// EnqueueOrder pushes an order ID onto the FIFO queue of a stage.
func (c *Client) EnqueueOrder(ctx context.Context, stage OrderState, orderID int) error {
	key := StageQueueKey(c.instanceName, stage)
	if err := c.rdb.RPush(ctx, key, strconv.Itoa(orderID)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue order %d for %s: %w", orderID, stage, err)
	}
	return nil
}

// DequeueOrder pops the next order ID from a stage queue, blocking until one
// is available or the context is cancelled. Pop is atomic: each order ID is
// delivered to exactly one caller.
func (c *Client) DequeueOrder(ctx context.Context, stage OrderState) (int, error) {
	return c.blockingPop(ctx, StageQueueKey(c.instanceName, stage))
}

// QueueLength returns the number of orders waiting for a stage.
func (c *Client) QueueLength(ctx context.Context, stage OrderState) (int64, error) {
	n, err := c.rdb.LLen(ctx, StageQueueKey(c.instanceName, stage)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length for %s: %w", stage, err)
	}
	return n, nil
}

// --- Oven pool ---

// AddFreeOven seeds or returns an oven into the free pool.
func (c *Client) AddFreeOven(ctx context.Context, ovenID int) error {
	if err := c.rdb.RPush(ctx, OvenFreeKey(c.instanceName), strconv.Itoa(ovenID)).Err(); err != nil {
		return fmt.Errorf("failed to add oven %d to free pool: %w", ovenID, err)
	}
	return nil
}

// AcquireOven pops an oven from the free pool, blocking until one is
// available or the context is cancelled. The caller owns the oven
// exclusively until it releases it or shuts it down.
func (c *Client) AcquireOven(ctx context.Context) (int, error) {
	return c.blockingPop(ctx, OvenFreeKey(c.instanceName))
}

// ReleaseOven returns an oven to the free pool. A release request for an
// oven in the failsafe set is rejected with ErrOvenFailsafe: an oven that
// saw an unconfirmed placement must never return to service.
// Check-then-push is safe here because an oven has a single owner between
// reservation and release.
func (c *Client) ReleaseOven(ctx context.Context, ovenID int) error {
	failsafe, err := c.IsOvenFailsafe(ctx, ovenID)
	if err != nil {
		return err
	}
	if failsafe {
		return fmt.Errorf("cannot release oven %d: %w", ovenID, ErrOvenFailsafe)
	}
	return c.AddFreeOven(ctx, ovenID)
}

// FailsafeOven permanently removes an oven from service.
func (c *Client) FailsafeOven(ctx context.Context, ovenID int) error {
	if err := c.rdb.SAdd(ctx, OvenFailsafeKey(c.instanceName), strconv.Itoa(ovenID)).Err(); err != nil {
		return fmt.Errorf("failed to failsafe oven %d: %w", ovenID, err)
	}
	return nil
}

// IsOvenFailsafe reports whether an oven has been failsafe-shut-down.
func (c *Client) IsOvenFailsafe(ctx context.Context, ovenID int) (bool, error) {
	member, err := c.rdb.SIsMember(ctx, OvenFailsafeKey(c.instanceName), strconv.Itoa(ovenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check failsafe state of oven %d: %w", ovenID, err)
	}
	return member, nil
}

// FailsafeCount returns the number of ovens permanently out of service.
func (c *Client) FailsafeCount(ctx context.Context) (int64, error) {
	n, err := c.rdb.SCard(ctx, OvenFailsafeKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count failsafe ovens: %w", err)
	}
	return n, nil
}

// FreeOvens returns the current contents of the free pool, for inspection.
func (c *Client) FreeOvens(ctx context.Context) ([]int, error) {
	return c.intList(ctx, OvenFreeKey(c.instanceName))
}

// --- Oven handoff ---

// EnqueueBakeRequest declares an order ready for the oven. The queue is
// strict FIFO across all pre-oven robots: the earliest-queued order is
// served the first available oven.
func (c *Client) EnqueueBakeRequest(ctx context.Context, orderID int) error {
	if err := c.rdb.RPush(ctx, BakeQueueKey(c.instanceName), strconv.Itoa(orderID)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue bake request for order %d: %w", orderID, err)
	}
	return nil
}

// DequeueBakeRequest pops the earliest waiting bake request, blocking until
// one is available or the context is cancelled.
func (c *Client) DequeueBakeRequest(ctx context.Context) (int, error) {
	return c.blockingPop(ctx, BakeQueueKey(c.instanceName))
}

// RemoveBakeRequest atomically withdraws an order's bake request from the
// queue. Returns true if the request was still queued, false if a post-oven
// robot had already popped it; in the latter case the rendezvous is
// committed and the caller must see it through.
func (c *Client) RemoveBakeRequest(ctx context.Context, orderID int) (bool, error) {
	removed, err := c.rdb.LRem(ctx, BakeQueueKey(c.instanceName), 1, strconv.Itoa(orderID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to withdraw bake request of order %d: %w", orderID, err)
	}
	return removed > 0, nil
}

// PublishOvenAssignment sends the reserved oven ID to the pre-oven robot
// blocked at sync1 for the given order.
func (c *Client) PublishOvenAssignment(ctx context.Context, orderID, ovenID int) error {
	channel := OvenAssignChannel(c.instanceName, orderID)
	if err := c.rdb.Publish(ctx, channel, strconv.Itoa(ovenID)).Err(); err != nil {
		return fmt.Errorf("failed to publish oven assignment for order %d: %w", orderID, err)
	}
	return nil
}

// PublishPlacementResult sends the sync2 placement result for an oven.
func (c *Client) PublishPlacementResult(ctx context.Context, ovenID int, result PlacementResult) error {
	if err := result.Validate(); err != nil {
		return err
	}
	channel := PlacementChannel(c.instanceName, ovenID)
	if err := c.rdb.Publish(ctx, channel, string(result)).Err(); err != nil {
		return fmt.Errorf("failed to publish placement result for oven %d: %w", ovenID, err)
	}
	return nil
}

// --- Breaks and failures ---

// RequestBreak asks a robot to break at its next eligible boundary.
func (c *Client) RequestBreak(ctx context.Context, robotID int) error {
	if err := c.rdb.SAdd(ctx, BreakSetKey(c.instanceName), strconv.Itoa(robotID)).Err(); err != nil {
		return fmt.Errorf("failed to request break of robot %d: %w", robotID, err)
	}
	return nil
}

// BreakRequested reports whether a break is pending for the robot.
func (c *Client) BreakRequested(ctx context.Context, robotID int) (bool, error) {
	member, err := c.rdb.SIsMember(ctx, BreakSetKey(c.instanceName), strconv.Itoa(robotID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check break request of robot %d: %w", robotID, err)
	}
	return member, nil
}

// PublishRobotFailure announces a robot's failure. Published exactly once
// per robot, by the robot itself, as its final act.
func (c *Client) PublishRobotFailure(ctx context.Context, failure RobotFailure) error {
	payload, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("failed to marshal robot failure: %w", err)
	}
	channel := RobotFailuresChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish robot failure: %w", err)
	}
	return nil
}

// PublishOperationDone announces that a robot finished an operation on an
// order. Consumed by the (robot, operation) pair's quality camera.
func (c *Client) PublishOperationDone(ctx context.Context, done OperationDone) error {
	payload, err := json.Marshal(done)
	if err != nil {
		return fmt.Errorf("failed to marshal completion notice: %w", err)
	}
	channel := OperationDoneChannel(c.instanceName, done.RobotID, done.Operation)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish completion notice: %w", err)
	}
	return nil
}

// PublishLog publishes a free-text operational message to the log channel.
// Fire and forget: delivered only to currently subscribed sinks.
func (c *Client) PublishLog(ctx context.Context, message string) error {
	return c.rdb.Publish(ctx, LogChannel(c.instanceName), message).Err()
}

// --- internal helpers ---

// blockingPop BLPOPs a single list until an element arrives or the context
// is cancelled. Short server-side timeouts are used so cancellation is
// noticed promptly even on clients that cannot interrupt an in-flight read.
func (c *Client) blockingPop(ctx context.Context, key string) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		res, err := c.rdb.BLPop(ctx, time.Second, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("failed to pop from %s: %w", key, err)
		}
		// BLPOP returns [key, value].
		value, err := strconv.Atoi(res[1])
		if err != nil {
			return 0, fmt.Errorf("invalid list element %q in %s: %w", res[1], key, err)
		}
		return value, nil
	}
}

func (c *Client) intList(ctx context.Context, key string) ([]int, error) {
	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", key, err)
	}
	values := make([]int, 0, len(raw))
	for _, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid list element %q in %s: %w", v, key, err)
		}
		values = append(values, n)
	}
	return values, nil
}

// subscribe opens a pub/sub subscription and waits for the server's
// confirmation before returning, so a publish that happens after this call
// returns is guaranteed to be delivered. The handoff protocol depends on
// this ordering.
func (c *Client) subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	pubsub := c.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return pubsub, nil
}

// pump forwards pub/sub payloads through parse into a typed channel until
// the context is cancelled or the subscription closes.
func pump[T any](ctx context.Context, pubsub *redis.PubSub, parse func(string) (T, error)) (<-chan T, <-chan error, func()) {
	events := make(chan T, 10)
	errs := make(chan error, 10)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(events)
		defer close(errs)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				value, err := parse(msg.Payload)
				if err != nil {
					select {
					case errs <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}
				select {
				case events <- value:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return events, errs, cancel
}
