package syncerr

// Disposition is what the orchestrator does with an error.
type Disposition int

const (
	// SurfaceToCaller returns the error to the caller without retrying.
	SurfaceToCaller Disposition = iota

	// RetryLocally retries the (idempotent) operation within its budget.
	RetryLocally

	// LogAndContinue records the error and lets the flow proceed.
	LogAndContinue
)

// String returns a human readable name for the disposition
func (d Disposition) String() string {
	switch d {
	case RetryLocally:
		return "retry-locally"
	case LogAndContinue:
		return "log-and-continue"
	default:
		return "surface-to-caller"
	}
}

// Classify maps an error onto the propagation policy. Unknown errors surface.
func Classify(err error) Disposition {
	switch CodeOf(err) {
	case CodeTransient:
		return RetryLocally
	case CodeSubscription, CodeRuntimeLoad:
		return LogAndContinue
	default:
		return SurfaceToCaller
	}
}
