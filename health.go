package pulsesync

import "time"

// Health is the fetch health of a [Synchronizer] as seen by its consumer.
//
// Health is a string type so it serializes cleanly to JSON and logs while
// staying type safe through the defined constants.
type Health string

const (
	// HealthUnknown means no cycle has completed since the last start.
	HealthUnknown Health = "unknown"

	// HealthOK means the most recent cycle succeeded.
	HealthOK Health = "ok"

	// HealthFailing means the most recent cycle failed. The baseline is
	// still the last good snapshot.
	HealthFailing Health = "failing"
)

// String returns the string representation of the health value.
func (h Health) String() string {
	return string(h)
}

// Stats holds counters for a [Synchronizer] since it was created.
type Stats struct {
	// Cycles counts completed cycles (successful or failed) that were not discarded.
	Cycles uint64

	// Updates counts update callbacks issued.
	Updates uint64

	// Errors counts error callbacks issued.
	Errors uint64

	// SkippedTicks counts ticks dropped because a cycle was still in flight.
	SkippedTicks uint64

	// Discarded counts completions ignored because the synchronizer was
	// stopped (or restarted) while they were in flight.
	Discarded uint64

	// LastSuccessAt is when the latest successful fetch completed.
	LastSuccessAt time.Time

	// LastUpdateAt is when the latest update callback was issued.
	LastUpdateAt time.Time
}
