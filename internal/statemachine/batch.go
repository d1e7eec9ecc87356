package statemachine

import "github.com/google/uuid"

type BatchItem struct {
	OrderID uuid.UUID
	State   State
	Event   Event
}

type BatchResult struct {
	OrderID uuid.UUID
	Step    Step
	Err     error
}

// Partition validates every item independently and splits them into valid
// and invalid sets, preserving input order within each set.
func Partition(items []BatchItem) (valid, invalid []BatchResult) {
	for _, item := range items {
		step, err := Transition(item.State, item.Event)
		if err != nil {
			invalid = append(invalid, BatchResult{OrderID: item.OrderID, Err: err})
			continue
		}
		valid = append(valid, BatchResult{OrderID: item.OrderID, Step: step})
	}
	return valid, invalid
}
