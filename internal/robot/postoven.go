package robot

import (
	"context"
	"fmt"

	"github.com/dyluth/forno/pkg/board"
)

// runPostOven processes one order on the shelf side of the ovens: reserve an
// oven, serve the earliest bake request, wait for the placement result, then
// run the script (bake, retrieve, free the oven, finish) through to shelf.
func (e *Engine) runPostOven(ctx context.Context) error {
	orderID, err := e.acquireBakedOrder(ctx)
	if err != nil {
		return err
	}
	e.orderID = orderID

	for _, op := range e.cfg.Operations {
		if err := e.executeOp(op); err != nil {
			return err
		}
	}

	if err := e.client.CompleteOrder(e.bg, e.orderID); err != nil {
		return err
	}
	e.logf("order %d shelved", e.orderID)
	e.orderID = board.NoID
	return nil
}

// acquireBakedOrder implements the post-oven half of the handoff. The oven
// is reserved before a request is served, so an idle robot may sit on a
// reservation; that inefficiency is the price of guaranteeing that a pizza
// only enters an oven a free hand will later empty.
func (e *Engine) acquireBakedOrder(ctx context.Context) (int, error) {
	for {
		ovenID, err := e.client.AcquireOven(ctx)
		if err != nil {
			return 0, err
		}
		e.ovenID = ovenID

		orderID, err := e.client.DequeueBakeRequest(ctx)
		if err != nil {
			// Shutdown while holding an untouched reservation: the oven is
			// safe to hand back before stopping.
			if relErr := e.client.ReleaseOven(e.bg, ovenID); relErr != nil {
				return 0, relErr
			}
			e.ovenID = board.NoID
			return 0, err
		}

		// Subscribe before signalling the pre-oven robot, so its placement
		// result cannot be published to a dead channel.
		sub, err := e.client.SubscribePlacementResult(e.bg, ovenID)
		if err != nil {
			return 0, err
		}

		if err := e.client.PublishOvenAssignment(e.bg, orderID, ovenID); err != nil {
			sub.Close()
			return 0, err
		}

		// The pre-oven robot is committed from here on: it confirms, aborts
		// or failsafes, but never goes silent. Waiting is unbounded.
		result, ok := <-sub.Events()
		sub.Close()
		if !ok {
			return 0, fmt.Errorf("placement subscription for oven %d closed unexpectedly", ovenID)
		}

		switch result {
		case board.PlacementOK:
			e.logf("order %d has been put into oven %d", orderID, ovenID)
			return orderID, nil

		case board.PlacementAborted:
			// Nothing entered the oven; it goes straight back to the pool.
			// The order was lost on the pre-oven side.
			e.logf("placement of order %d into oven %d aborted", orderID, ovenID)
			if err := e.client.ReleaseOven(e.bg, ovenID); err != nil {
				return 0, err
			}
			e.ovenID = board.NoID

		case board.PlacementFailsafe:
			// The pre-oven robot failed mid-placement. The oven is already
			// failsafe-shut-down and must never be released.
			e.logf("oven %d failsafe-shut-down after failed placement of order %d", ovenID, orderID)
			e.ovenID = board.NoID
		}

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
}

// releaseOven returns the held oven to the free pool. The board rejects the
// release of a failsafe oven; reaching that rejection here means the engine
// violated the protocol, so it is treated as a hard error.
func (e *Engine) releaseOven() error {
	if e.ovenID == board.NoID {
		return fmt.Errorf("robot %d reached %q without a held oven", e.cfg.ID, board.OpNameRelease)
	}
	if err := e.client.ReleaseOven(e.bg, e.ovenID); err != nil {
		return err
	}
	e.logf("oven %d freed", e.ovenID)
	e.ovenID = board.NoID
	return nil
}
