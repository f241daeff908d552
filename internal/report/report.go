// Package report builds and formats the final kitchen snapshot: order
// states, per-order quality maps and lost orders. It only reads the board;
// for a consistent picture it should run after the kitchen has shut down.
package report

import (
	"context"
	"sort"

	"github.com/dyluth/forno/pkg/board"
)

// Report is a point-in-time snapshot of the board's order data.
type Report struct {
	// StateByOrder maps each live or completed order to its current state.
	StateByOrder map[int]board.OrderState `json:"state_by_order"`

	// OrdersByState groups order IDs (sorted) by their current state.
	OrdersByState map[board.OrderState][]int `json:"orders_by_state"`

	// QualityByOrder maps each order to its stage quality scores.
	QualityByOrder map[int]map[board.OrderState]float64 `json:"quality_by_order"`

	// LostOrders lists IDs of orders destroyed by robot failures, in loss
	// order. IDs may repeat: a recycled ID can be lost again.
	LostOrders []int `json:"lost_orders"`
}

// Build reads the full snapshot from the board.
func Build(ctx context.Context, client *board.Client) (*Report, error) {
	states, err := client.AllOrderStates(ctx)
	if err != nil {
		return nil, err
	}

	r := &Report{
		StateByOrder:   states,
		OrdersByState:  make(map[board.OrderState][]int),
		QualityByOrder: make(map[int]map[board.OrderState]float64, len(states)),
	}

	for orderID, state := range states {
		r.OrdersByState[state] = append(r.OrdersByState[state], orderID)
		quality, err := client.QualityByStage(ctx, orderID)
		if err != nil {
			return nil, err
		}
		r.QualityByOrder[orderID] = quality
	}
	for _, orders := range r.OrdersByState {
		sort.Ints(orders)
	}

	r.LostOrders, err = client.LostOrders(ctx)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Shelved returns the sorted IDs of completed orders.
func (r *Report) Shelved() []int {
	return r.OrdersByState[board.StateShelf]
}
