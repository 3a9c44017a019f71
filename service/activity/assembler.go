package activity

import "slices"

// Assemble merges scanner and classifier events into one history, newest
// first. Events without a block time sort after every timestamped event;
// ties keep their input order.
func Assemble(scanEvents, classifyEvents []Event) []Event {
	events := make([]Event, 0, len(scanEvents)+len(classifyEvents))
	events = append(events, scanEvents...)
	events = append(events, classifyEvents...)
	slices.SortStableFunc(events, compareNewestFirst)
	return events
}

func compareNewestFirst(a, b Event) int {
	switch {
	case a.BlockTime == nil && b.BlockTime == nil:
		return 0
	case a.BlockTime == nil:
		return 1
	case b.BlockTime == nil:
		return -1
	}
	return b.BlockTime.Compare(*a.BlockTime)
}
