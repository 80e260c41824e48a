package splat

import "fmt"

// InvalidInputError reports input the pipeline cannot work with at all:
// an unsupported counts kind, a malformed matrix, or a parameter set with
// missing or out-of-domain fields at simulation time.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

func invalidInputf(format string, args ...any) *InvalidInputError {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

// ParameterDomainError reports an attempt to set a parameter to a value
// outside its domain. The parameter set the update was aimed at is left
// unchanged.
type ParameterDomainError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ParameterDomainError) Error() string {
	return fmt.Sprintf("parameter %s %s, got %v", e.Field, e.Reason, e.Value)
}

func domainErr(field string, value any, reason string) *ParameterDomainError {
	return &ParameterDomainError{Field: field, Value: value, Reason: reason}
}

// EstimationFailedError reports an estimation stage whose fit failed with no
// recoverable fallback. Err carries the underlying fit error.
type EstimationFailedError struct {
	Stage string
	Err   error
}

func (e *EstimationFailedError) Error() string {
	return fmt.Sprintf("%s estimation failed: %v", e.Stage, e.Err)
}

func (e *EstimationFailedError) Unwrap() error { return e.Err }
