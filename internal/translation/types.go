package translation

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a translation job
type State string

const (
	// StateSubmitted means the start-translation call was accepted and no poll ran yet
	StateSubmitted State = "Submitted"

	// StatePolling means at least one poll reported the job still processing
	StatePolling State = "Polling"

	// StateSucceeded means the manifest is available
	StateSucceeded State = "Succeeded"

	// StateFailed means upstream reported a terminal failure
	StateFailed State = "Failed"

	// StateTimedOut means the attempt or elapsed-time ceiling was reached
	StateTimedOut State = "TimedOut"
)

// IsTerminal reports whether no further polling may happen in state s
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// Derivative is one geometry stream produced by a translation
type Derivative struct {
	GUID       string `json:"guid"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
	OutputType string `json:"outputType,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Manifest lists the derivative geometry streams of a translated version
type Manifest struct {
	URN         string       `json:"urn"`
	Derivatives []Derivative `json:"derivatives"`
}

// Config holds the polling policy of a Tracker
type Config struct {
	// InitialBackoff is the delay before the first poll
	InitialBackoff time.Duration
	// MaxBackoff caps the nominal and the jittered delay
	MaxBackoff time.Duration
	// MaxAttempts is the poll count after which a still-processing job times out
	MaxAttempts int
	// Timeout is the elapsed time since submission after which a job times out
	Timeout time.Duration
	// Jitter is the relative spread applied to each scheduled delay
	Jitter float64
}

// DefaultConfig returns the default polling policy
func DefaultConfig() Config {
	return Config{
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		MaxAttempts:    60,
		Timeout:        30 * time.Minute,
		Jitter:         0.2,
	}
}

// Validate checks that the policy is usable
func (c Config) Validate() error {
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initialBackoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("maxBackoff (%s) must not be lower than initialBackoff (%s)", c.MaxBackoff, c.InitialBackoff)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("maxAttempts must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1)")
	}
	return nil
}

// Snapshot is a point-in-time copy of a job, safe to read without locking
type Snapshot struct {
	ID           string        `json:"id"`
	URN          string        `json:"urn"`
	ItemID       string        `json:"itemId,omitempty"`
	State        State         `json:"state"`
	SubmittedAt  time.Time     `json:"submittedAt"`
	LastPolledAt time.Time     `json:"lastPolledAt,omitempty"`
	Attempts     int           `json:"attempts"`
	Backoff      time.Duration `json:"backoff"`
	LastMessage  string        `json:"lastMessage,omitempty"`
	Manifest     *Manifest     `json:"manifest,omitempty"`
	Disposed     bool          `json:"disposed,omitempty"`
	// Err is a *syncerr.TranslationFailure or *syncerr.TimeoutError for failed jobs
	Err error `json:"-"`
}
