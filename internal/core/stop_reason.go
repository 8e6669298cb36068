package core

// StopReason explains in the logs why the app shut down.
type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal-error"
)
