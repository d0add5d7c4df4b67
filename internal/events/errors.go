package events

import "errors"

// Error kinds, per spec.md §7's taxonomy. Callers check with errors.Is;
// these are sentinels rather than a types hierarchy because the
// taxonomy is a closed, small set of kinds, not an extensible one.
var (
	// Input-format errors. Surfaced synchronously by the score loader;
	// the session is never started.
	ErrMalformedMidi      = errors.New("malformed midi")
	ErrUnsupportedFormat  = errors.New("unsupported midi format")
	ErrSampleRateMismatch = errors.New("sample rate mismatch outside resampling ratio bounds")

	// Resource errors. The caller may retry on a different tier.
	ErrModelUnavailable  = errors.New("polyphonic transcription model unavailable")
	ErrExerciseNotFound  = errors.New("exercise not found")

	// Protocol misuse. Surfaced to the caller; session survives.
	ErrNotActive              = errors.New("follower session is not active")
	ErrAlreadyStarted         = errors.New("follower session already started")
	ErrInvalidTempoMultiplier = errors.New("tempo multiplier outside [0.5, 1.0]")

	// Internal invariants. Fatal for the session.
	ErrTimestampNotMonotonic = errors.New("detected_at_sec went backwards within session")
	ErrPitchOutOfRange       = errors.New("midi pitch outside [21,108] from detector")
)
