// Package clock re-exports jonboulle/clockwork's Clock as the capability
// interface the spec's Design Notes call for (§9: "class-per-file service
// graph... re-model as small capability interfaces... Clock"). clockwork is
// already pulled in transitively by go-co-op/gocron/v2; wiring it directly
// here gives the Worker Pool and scheduler a fakeable clock without a second,
// hand-rolled interface.
package clock

import "github.com/jonboulle/clockwork"

// Clock abstracts time.Now/time.Since/time.Sleep for components that need a
// fake clock under test (stale-job recovery sweeps, visibility-timeout math).
type Clock = clockwork.Clock

// New returns the real, wall-clock Clock used in production.
func New() Clock {
	return clockwork.NewRealClock()
}

// NewFake returns a fully-controllable fake Clock for tests.
func NewFake() clockwork.FakeClock {
	return clockwork.NewFakeClock()
}
