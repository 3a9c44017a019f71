package temporal

import (
	"context"
	"strings"
	"time"
)

// Scheduler manages Temporal schedules for watched mints.
// Each mint gets its own schedule that triggers the RefreshMintActivityWorkflow.
type Scheduler interface {
	// UpsertMintSchedule creates the schedule for a mint, or updates its
	// interval if it already exists.
	UpsertMintSchedule(ctx context.Context, mint string, interval time.Duration) error

	// DeleteMintSchedule deletes the schedule for a mint.
	// This stops the mint from being refreshed.
	DeleteMintSchedule(ctx context.Context, mint string) error
}

// ScheduleIDPrefix prefixes every mint schedule ID.
const ScheduleIDPrefix = "watch-mint-"

// ScheduleID returns the Temporal schedule ID for a mint.
func ScheduleID(mint string) string {
	return ScheduleIDPrefix + mint
}

// MintFromScheduleID returns the mint a schedule ID was built for.
func MintFromScheduleID(id string) (string, bool) {
	mint, ok := strings.CutPrefix(id, ScheduleIDPrefix)
	if !ok || mint == "" {
		return "", false
	}
	return mint, true
}
