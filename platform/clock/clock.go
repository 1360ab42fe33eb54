// Package clock provides an injectable time source.
// This is part of the platform layer and contains no business logic.
//
// The rule engines and the orchestrator depend on elapsed-time thresholds
// (score decay, SLA staleness, aging archive). Injecting the clock keeps
// those thresholds deterministic under test.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the real UTC clock.
func System() Clock { return systemClock{} }
