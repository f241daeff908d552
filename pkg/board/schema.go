package board

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Forno kitchens to safely coexist on a single Redis server.
//
// Key pattern: forno:{instance_name}:{entity}...
// Channel pattern: forno:{instance_name}:{event}...

// KeyPrefix returns the namespace prefix every key and channel of an
// instance starts with. Used by Reset to clear an instance's keyspace.
func KeyPrefix(instanceName string) string {
	return fmt.Sprintf("forno:%s:", instanceName)
}

// OrderStateKey returns the key of the order-state hash.
// Fields are order IDs, values are OrderState names.
// Pattern: forno:{instance}:order:state
func OrderStateKey(instanceName string) string {
	return fmt.Sprintf("forno:%s:order:state", instanceName)
}

// OrderQualityKey returns the key of an order's quality hash.
// Fields are stage names, values are scores in [0,1].
// Pattern: forno:{instance}:order:quality:{order_id}
func OrderQualityKey(instanceName string, orderID int) string {
	return fmt.Sprintf("forno:%s:order:quality:%d", instanceName, orderID)
}

// OrderCounterKey returns the key of the next-order-ID counter.
// Pattern: forno:{instance}:order:next_id
func OrderCounterKey(instanceName string) string {
	return fmt.Sprintf("forno:%s:order:next_id", instanceName)
}

// OrderFreeIDsKey returns the key of the recycled-order-ID list.
// Pattern: forno:{instance}:order:free_ids
func OrderFreeIDsKey(instanceName string) string {
	return fmt.Sprintf("forno:%s:order:free_ids", instanceName)
}

// OrderLostKey returns the key of the lost-order list, kept for reporting.
// Pattern: forno:{instance}:order:lost
func OrderLostKey(instanceName string) string {
	return fmt.Sprintf("forno:%s:order:lost", instanceName)
}

// StageQueueKey returns the key of a stage's FIFO queue of waiting order IDs.
// Pattern: forno:{instance}:queue:{stage}
func StageQueueKey(instanceName string, stage OrderState) string {
	return fmt.Sprintf("forno:%s:queue:%s", instanceName, stage)
}

// OvenFreeKey returns the key of the free-oven pool (a list of oven IDs).
// Pattern: forno:{instance}:oven:free
func OvenFreeKey(instanceName string) string {
	return fmt.Sprintf("forno:%s:oven:free", instanceName)
}

// OvenFailsafeKey returns the key of the failsafe-shut-down oven set.
// Ovens in this set never return to service.
// Pattern: forno:{instance}:oven:failsafe
func OvenFailsafeKey(instanceName string) string {
	return fmt.Sprintf("forno:%s:oven:failsafe", instanceName)
}

// BakeQueueKey returns the key of the oven-request queue: order IDs whose
// pre-oven robot is blocked at sync1 waiting for an oven assignment.
// Pattern: forno:{instance}:oven:requests
func BakeQueueKey(instanceName string) string {
	return fmt.Sprintf("forno:%s:oven:requests", instanceName)
}

// BreakSetKey returns the key of the pending-break set of robot IDs.
// Pattern: forno:{instance}:robot:break
func BreakSetKey(instanceName string) string {
	return fmt.Sprintf("forno:%s:robot:break", instanceName)
}

// OvenAssignChannel returns the sync1 reply channel for an order: a
// post-oven robot publishes the reserved oven ID here.
// Pattern: forno:{instance}:oven:assign:{order_id}
func OvenAssignChannel(instanceName string, orderID int) string {
	return fmt.Sprintf("forno:%s:oven:assign:%d", instanceName, orderID)
}

// PlacementChannel returns the sync2 channel for an oven: the pre-oven robot
// publishes the placement result here.
// Pattern: forno:{instance}:oven:placed:{oven_id}
func PlacementChannel(instanceName string, ovenID int) string {
	return fmt.Sprintf("forno:%s:oven:placed:%d", instanceName, ovenID)
}

// OperationDoneChannel returns the completion-notice channel for a
// (robot, operation) pair, consumed by that pair's quality camera.
// Pattern: forno:{instance}:done:{robot_id}:{operation}
func OperationDoneChannel(instanceName string, robotID int, operation string) string {
	return fmt.Sprintf("forno:%s:done:%d:%s", instanceName, robotID, operation)
}

// RobotFailuresChannel returns the channel robot failure notices are
// published on. All consumers subscribe here and filter by robot ID.
// Pattern: forno:{instance}:robot:failures
func RobotFailuresChannel(instanceName string) string {
	return fmt.Sprintf("forno:%s:robot:failures", instanceName)
}

// LogChannel returns the free-text operational log channel.
// Pattern: forno:{instance}:log
func LogChannel(instanceName string) string {
	return fmt.Sprintf("forno:%s:log", instanceName)
}
