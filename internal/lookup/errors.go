package lookup

const (
	ReasonRateLimited        = "rate limited"
	ReasonNetwork            = "network"
	ReasonInvalidCoordinates = "invalid coordinates"
)

// Error is a row-level lookup failure. Reason is recorded verbatim on the
// failed outcome.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}
