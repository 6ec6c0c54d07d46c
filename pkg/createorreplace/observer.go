package createorreplace

import (
	"github.com/giantswarm/upsert/pkg/logging"
)

// State is a step of a single CreateOrReplace call.
type State string

const (
	StateStart      State = "Start"
	StateCreating   State = "Creating"
	StateReloading  State = "Reloading"
	StateRetry      State = "Retry"
	StateConflict   State = "Conflict"
	StateDeleting   State = "Deleting"
	StateRecreating State = "Recreating"
	StateReplacing  State = "Replacing"
	StateDone       State = "Done"
	StateFailed     State = "Failed"
)

// Outcome describes how a CreateOrReplace call ended.
type Outcome string

const (
	// OutcomeCreated means the object did not exist and was created.
	OutcomeCreated Outcome = "Created"

	// OutcomeReplaced means an existing object was replaced.
	OutcomeReplaced Outcome = "Replaced"

	// OutcomeRecreated means an existing object was deleted and created again.
	OutcomeRecreated Outcome = "Recreated"

	// OutcomeFailed means the call returned an error.
	OutcomeFailed Outcome = "Failed"
)

// Observer receives the progress of CreateOrReplace calls. Implementations must be safe
// for concurrent use when the Helper is shared.
type Observer interface {
	ObserveTransition(name string, from, to State)
	ObserveOutcome(name string, outcome Outcome, attempts int, err error)
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) ObserveTransition(string, State, State) {}
func (NopObserver) ObserveOutcome(string, Outcome, int, error) {}

// LogObserver writes transitions at debug level and failures at warn level.
type LogObserver struct{}

func (LogObserver) ObserveTransition(name string, from, to State) {
	logging.Debug("CreateOrReplace", "%s: %s -> %s", name, from, to)
}

func (LogObserver) ObserveOutcome(name string, outcome Outcome, attempts int, err error) {
	if err != nil {
		logging.Warn("CreateOrReplace", "%s: %s after %d attempt(s): %v", name, outcome, attempts, err)
		return
	}
	logging.Debug("CreateOrReplace", "%s: %s after %d attempt(s)", name, outcome, attempts)
}

// multiObserver fans observations out to several observers.
type multiObserver []Observer

func (m multiObserver) ObserveTransition(name string, from, to State) {
	for _, o := range m {
		o.ObserveTransition(name, from, to)
	}
}

func (m multiObserver) ObserveOutcome(name string, outcome Outcome, attempts int, err error) {
	for _, o := range m {
		o.ObserveOutcome(name, outcome, attempts, err)
	}
}
