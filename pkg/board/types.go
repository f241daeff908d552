// Package board provides type-safe Go definitions and Redis schema patterns
// for the Forno kitchen board. The board is the only shared state in the
// kitchen: robots, cameras and the manager interact exclusively through its
// hashes, lists, sets and pub/sub channels.
//
// All Redis keys and channels are namespaced by instance name so multiple
// kitchens can safely coexist on a single Redis server.
package board

import "fmt"

// OrderState is the name of the operation an order is currently queued for
// or has just entered. The domain is the configured operation names plus the
// two fixed boundary states below.
type OrderState string

const (
	// StateFreezer is the initial state of every order.
	StateFreezer OrderState = "freezer"

	// StateShelf is the terminal state: the pizza is done and shelved.
	StateShelf OrderState = "shelf"
)

// Position fixes which side of the ovens a robot works on. It never changes
// after creation.
type Position string

const (
	// PositionPreOven robots work the pipeline from freezer to oven placement.
	PositionPreOven Position = "pre_oven"

	// PositionPostOven robots work the pipeline from oven retrieval to shelf.
	PositionPostOven Position = "post_oven"
)

// Validate checks that the position is one of the two known values.
func (p Position) Validate() error {
	switch p {
	case PositionPreOven, PositionPostOven:
		return nil
	}
	return fmt.Errorf("unknown robot position: %q (expected %q or %q)", p, PositionPreOven, PositionPostOven)
}

// OpKind is the tagged variant of an operation script entry. Protocol
// markers are distinguished from ordinary physical steps at parse time so
// scripts can be validated structurally before any agent runs.
type OpKind int

const (
	// OpPhysical is an ordinary physical action: it takes simulated time,
	// updates order state and can fail.
	OpPhysical OpKind = iota

	// OpReserveOven is the pre-oven sync1 marker: enqueue a bake request and
	// block until a post-oven robot assigns an oven.
	OpReserveOven

	// OpConfirmPlacement is the pre-oven sync2 marker: publish the placement
	// result on the assigned oven's channel.
	OpConfirmPlacement

	// OpReleaseOven is the post-oven free marker: return the held oven to
	// the free pool.
	OpReleaseOven
)

// Operation script marker names, fixed by the protocol.
const (
	OpNameReserve = "sync1"
	OpNameConfirm = "sync2"
	OpNameRelease = "free"
)

// Operation is one entry of a robot's operation script.
type Operation struct {
	Name string
	Kind OpKind
}

// ParseOperation maps a configured operation name to its tagged variant.
// Any name that is not a protocol marker is an ordinary physical step.
func ParseOperation(name string) Operation {
	switch name {
	case OpNameReserve:
		return Operation{Name: name, Kind: OpReserveOven}
	case OpNameConfirm:
		return Operation{Name: name, Kind: OpConfirmPlacement}
	case OpNameRelease:
		return Operation{Name: name, Kind: OpReleaseOven}
	}
	return Operation{Name: name, Kind: OpPhysical}
}

// IsMarker reports whether the operation is a protocol marker rather than a
// physical step.
func (o Operation) IsMarker() bool {
	return o.Kind != OpPhysical
}

// PlacementResult is the sync2 signal a pre-oven robot publishes on the
// oven's channel after the placement window.
type PlacementResult string

const (
	// PlacementOK: the pizza is in the oven, baking may start.
	PlacementOK PlacementResult = "ok"

	// PlacementAborted: the placement never physically began; the oven is
	// empty and may be returned to the free pool. The order is lost.
	PlacementAborted PlacementResult = "aborted"

	// PlacementFailsafe: the robot failed mid-placement. The oven contents
	// are unknown and the oven must be failsafe-shut-down.
	PlacementFailsafe PlacementResult = "failsafe"
)

// Validate checks that the result is one of the known values.
func (r PlacementResult) Validate() error {
	switch r {
	case PlacementOK, PlacementAborted, PlacementFailsafe:
		return nil
	}
	return fmt.Errorf("unknown placement result: %q", r)
}

// NoID marks the absence of an order or oven in a failure notice.
const NoID = -1

// RobotFailure is the notice a robot publishes exactly once when it breaks.
// OrderID and OvenID are NoID when the robot held no order or oven.
type RobotFailure struct {
	EventID  string   `json:"event_id"` // UUID, unique per failure
	RobotID  int      `json:"robot_id"`
	Position Position `json:"position"`
	OrderID  int      `json:"order_id"`
	OvenID   int      `json:"oven_id"`
}

// OperationDone is the completion notice published for every finished
// operation, consumed by quality cameras.
type OperationDone struct {
	RobotID   int    `json:"robot_id"`
	Operation string `json:"operation"`
	OrderID   int    `json:"order_id"`
}
