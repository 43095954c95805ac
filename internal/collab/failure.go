package collab

import "fmt"

// FailureKind is a closed enumeration of external-call failure classes.
// The retry policy switches on the kind tag, never on error subtype.
type FailureKind string

const (
	// KindRateLimited and KindTimeout are transient provider conditions.
	KindRateLimited FailureKind = "rate_limited"
	KindTimeout     FailureKind = "timeout"
	// KindUnavailable covers generic service errors from the CRM and
	// sentiment collaborators.
	KindUnavailable FailureKind = "unavailable"
	// KindInvalidInput is permanent: retrying the same input can never
	// succeed.
	KindInvalidInput FailureKind = "invalid_input"
)

// Failure is the error type returned by collaborator implementations.
type Failure struct {
	Kind FailureKind
	Msg  string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

// Retryable reports whether the failure class is worth re-attempting.
func (f *Failure) Retryable() bool {
	return f.Kind != KindInvalidInput
}

func RateLimited(format string, args ...any) error {
	return &Failure{Kind: KindRateLimited, Msg: fmt.Sprintf(format, args...)}
}

func Timeout(format string, args ...any) error {
	return &Failure{Kind: KindTimeout, Msg: fmt.Sprintf(format, args...)}
}

func Unavailable(format string, args ...any) error {
	return &Failure{Kind: KindUnavailable, Msg: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) error {
	return &Failure{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...)}
}
