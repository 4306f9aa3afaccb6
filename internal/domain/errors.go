package domain

import "fmt"

// Sentinel errors shared across services and adapters. The HTTP adapter maps
// these to status codes; nothing below it should inspect response codes.
var (
	// ErrNotFound covers risk items, domain risks and referenced fields.
	ErrNotFound = errString("not found")

	// ErrInvalidState rejects a mutation the state machine does not allow,
	// e.g. touching a terminal item or unassigning an unassigned one.
	ErrInvalidState = errString("invalid state for operation")

	// ErrAssignmentConflict rejects a self-assign while another user holds
	// the item. assignToUser is the escape hatch for reassignment.
	ErrAssignmentConflict = errString("already assigned to another user")

	// ErrDuplicateItem is the storage-layer outcome of the unique constraint
	// on (appID, fieldKey, triggeringEvidenceID). The evaluator turns it into
	// the "already exists" no-op result; it is not surfaced as a failure.
	ErrDuplicateItem = errString("risk item already exists for this evidence")
)

type errString string

func (e errString) Error() string { return string(e) }

// ValidationError rejects a request before any mutation happens: unknown
// action discriminators, missing companion fields and the like.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError marks a deployment inconsistency: the registry has no
// entry for a field that is actively in use, or a profile field cannot be
// resolved. These are fatal for the operation and logged loudly.
type ConfigurationError struct {
	Subject string
	Msg     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Subject, e.Msg)
}

// Configf builds a ConfigurationError for a subject.
func Configf(subject, format string, args ...any) error {
	return &ConfigurationError{Subject: subject, Msg: fmt.Sprintf(format, args...)}
}
