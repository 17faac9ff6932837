package borrow

// Version information for the borrowtrace runtime.
const (
	// Version is the current version of the tracker runtime.
	Version = "0.1.0"
)

// Info provides runtime information about the tracker.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Enabled indicates whether event recording is active.
	Enabled bool
}

// GetInfo returns information about the tracker runtime.
func GetInfo() Info {
	return Info{
		Version: Version,
		Enabled: enabled.Load(),
	}
}
