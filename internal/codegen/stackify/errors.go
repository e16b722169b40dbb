package stackify

import "fmt"

// Error codes for the stackification pass, drawn from the tooling range
// E0900-E0999 reserved in internal/errors/codes.go. The pass has no
// recoverable errors: every one of these is fatal and ends the pass.
const (
	// E0900: a required analysis (liveness, loop, dominance) was not
	// supplied, or the CFG violates a prerequisite the pass assumes prior
	// normalization has already established.
	ErrorPrerequisiteViolation = "E0900"

	// E0901: an internal invariant was violated - a value missing from the
	// simulated stack, a cyclic tree graph, or a join-point disagreement
	// between predecessor stack states.
	ErrorInternalInvariant = "E0901"

	// E0902: an immediate value's type has no encoding (signed integers,
	// floating point).
	ErrorUnsupportedImmediate = "E0902"

	// E0903: a global symbol the program references was not resolved by the
	// linker - a bug the earlier pipeline stages are contracted to reject.
	ErrorLinkerResolution = "E0903"
)

// Error is the pass's sole error type: a fatal category plus the detail
// that identifies where it went wrong. There are no recoverable errors in
// the pass; it either completes or fails with one of these.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errPrerequisite(format string, args ...interface{}) *Error {
	return &Error{Code: ErrorPrerequisiteViolation, Message: fmt.Sprintf(format, args...)}
}

func errInvariant(format string, args ...interface{}) *Error {
	return &Error{Code: ErrorInternalInvariant, Message: fmt.Sprintf(format, args...)}
}

func errUnsupportedImmediate(format string, args ...interface{}) *Error {
	return &Error{Code: ErrorUnsupportedImmediate, Message: fmt.Sprintf(format, args...)}
}

func errLinker(format string, args ...interface{}) *Error {
	return &Error{Code: ErrorLinkerResolution, Message: fmt.Sprintf(format, args...)}
}

// GetErrorDescription mirrors internal/errors.GetErrorDescription for the
// codes this package defines, so the CLI's diagnostic surface can describe
// a codegen failure the same way it describes a semantic one.
func GetErrorDescription(code string) string {
	switch code {
	case ErrorPrerequisiteViolation:
		return "A required analysis or CFG shape invariant was missing before stackification"
	case ErrorInternalInvariant:
		return "An internal invariant of the stackification pass was violated"
	case ErrorUnsupportedImmediate:
		return "An immediate value has no supported target-VM encoding"
	case ErrorLinkerResolution:
		return "A global symbol referenced by the program was not resolved by the linker"
	default:
		return "Unknown error code"
	}
}
