package robot

import (
	"context"
	"fmt"

	"github.com/dyluth/forno/pkg/board"
)

// runPreOven processes one order on the freezer side of the ovens: pull the
// next order, run the script up to the reserve step, rendezvous with a
// post-oven robot, place the pizza and confirm. The order leaves this
// robot's hands at the confirm step; it does not wait for the bake.
func (e *Engine) runPreOven(ctx context.Context) error {
	orderID, err := e.client.DequeueOrder(ctx, board.StateFreezer)
	if err != nil {
		return err
	}
	e.orderID = orderID

	for _, op := range e.cfg.Operations {
		if op.Kind == board.OpReserveOven {
			if err := e.reserveOven(ctx); err != nil {
				return err
			}
			continue
		}
		if err := e.executeOp(op); err != nil {
			return err
		}
	}

	// sync2 was the final step: the order now belongs to the post-oven side.
	e.orderID = board.NoID
	return nil
}

// reserveOven implements the pre-oven half of the handoff rendezvous:
// subscribe to the reply channel first, enqueue the bake request, then block
// until a post-oven robot assigns an oven. The wait has no timeout; once the
// request has been popped by a partner the rendezvous always completes,
// because neither side may abandon it without signalling.
func (e *Engine) reserveOven(ctx context.Context) error {
	if ctx.Err() != nil {
		// Shutdown: starting a new oven placement is forbidden. The pizza in
		// hand cannot be finished, so it is lost.
		e.logf("shutdown before oven placement, discarding order %d", e.orderID)
		return e.discardAndHalt()
	}

	if err := e.client.SetOrderState(e.bg, e.orderID, board.OrderState(board.OpNameReserve)); err != nil {
		return err
	}
	e.logf("start %q on order %d", board.OpNameReserve, e.orderID)

	sub, err := e.client.SubscribeOvenAssignment(e.bg, e.orderID)
	if err != nil {
		return err
	}
	defer sub.Close()

	if err := e.client.EnqueueBakeRequest(e.bg, e.orderID); err != nil {
		return err
	}

	var ovenID int
	select {
	case ovenID = <-sub.Events():
	case <-ctx.Done():
		// Shutdown while queued. If the request is still in the queue no
		// partner holds an oven for it and the order can be dropped; if it
		// is gone a post-oven robot is already committed and will assign.
		withdrawn, err := e.client.RemoveBakeRequest(e.bg, e.orderID)
		if err != nil {
			return err
		}
		if withdrawn {
			e.logf("shutdown while awaiting an oven, discarding order %d", e.orderID)
			return e.discardAndHalt()
		}
		ovenID = <-sub.Events()
	}

	if ctx.Err() != nil {
		// An oven was assigned but the kitchen is shutting down: abort
		// before anything enters the oven so it can safely return to the
		// pool. The partner is unblocked by the aborted result.
		e.logf("shutdown with oven %d assigned, aborting placement of order %d", ovenID, e.orderID)
		if err := e.client.PublishPlacementResult(e.bg, ovenID, board.PlacementAborted); err != nil {
			return err
		}
		return e.discardAndHalt()
	}

	e.ovenID = ovenID
	e.logf("done %q on order %d, assigned oven %d", board.OpNameReserve, e.orderID, ovenID)
	return e.client.PublishOperationDone(e.bg, board.OperationDone{
		RobotID:   e.cfg.ID,
		Operation: board.OpNameReserve,
		OrderID:   e.orderID,
	})
}

// confirmPlacement publishes the sync2 success signal for the held oven and
// releases the robot's claim on it. Only reached when the placement step
// physically succeeded; failure paths publish their own result.
func (e *Engine) confirmPlacement() error {
	if e.ovenID == board.NoID {
		return fmt.Errorf("robot %d reached %q without a reserved oven", e.cfg.ID, board.OpNameConfirm)
	}
	if err := e.client.PublishPlacementResult(e.bg, e.ovenID, board.PlacementOK); err != nil {
		return err
	}
	e.ovenID = board.NoID
	return nil
}

// discardAndHalt drops the held order and stops the robot without marking it
// broken. Used on shutdown paths only.
func (e *Engine) discardAndHalt() error {
	if err := e.client.DiscardOrder(e.bg, e.orderID); err != nil {
		return err
	}
	e.orderID = board.NoID
	return errHalt
}
