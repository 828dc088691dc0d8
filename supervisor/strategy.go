package supervisor

import "time"

// Strategy selects how siblings are affected when one child terminates,
// per spec.md §4.2 "Strategies". Grounded on rutaka-n-ergonode/supervisor.go's
// SupervisorStrategyType constants, completed here: the teacher's
// one_for_one case is left as a no-op stub and simple_one_for_one is
// entirely empty.
type Strategy int

const (
	OneForOne Strategy = iota
	OneForAll
	RestForOne
	SimpleOneForOne
)

// AutoShutdown selects when the supervisor itself stops in reaction to its
// "significant" children terminating, per spec.md §4.2 "Auto-shutdown".
type AutoShutdown int

const (
	// AutoShutdownNever keeps the supervisor running regardless of
	// significant-child terminations (default).
	AutoShutdownNever AutoShutdown = iota
	// AutoShutdownAnySignificant stops the supervisor as soon as any
	// significant child terminates.
	AutoShutdownAnySignificant
	// AutoShutdownAllSignificant stops the supervisor once every
	// significant child has terminated.
	AutoShutdownAllSignificant
)

// IntensityConfig bounds how many restarts may occur in a trailing window
// before the supervisor gives up and shuts itself down.
type IntensityConfig struct {
	MaxRestarts int
	Within      time.Duration
}

// DefaultIntensity matches spec.md §4.2's default (3 restarts / 5s) and
// the teacher's SupervisorRestartIntensity/SupervisorRestartPeriod
// constants (10/10s) tightened to the spec's stated default.
var DefaultIntensity = IntensityConfig{MaxRestarts: 3, Within: 5 * time.Second}

// Options configures a Supervisor, mirroring spec.md §4.2/§6.
type Options struct {
	Name     string
	Strategy Strategy
	Intensity IntensityConfig

	// Children is the static child list for one_for_one/one_for_all/
	// rest_for_one. Must be empty for SimpleOneForOne.
	Children []ChildSpec

	// ChildTemplate is required for SimpleOneForOne and forbidden
	// otherwise.
	ChildTemplate *ChildSpec

	ShutdownTimeout time.Duration
	AutoShutdown    AutoShutdown
}
