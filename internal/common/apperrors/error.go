// Package apperrors provides chained application errors that carry an HTTP status code.
// Errors form a tree: a sentinel created with New derives children through New, Msg and
// Err, and errors.Is matches any ancestor as well as any attached cause.
package apperrors

// Error is the error type returned across package boundaries in the key server.
// All derivation methods return a new value; sentinels are never mutated.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                   // child sentinel with a new message
	Msg(msg string) Error                   // replaces the message, keeps the parent as cause
	Msgf(format string, args ...any) Error  // formatted variant of Msg
	Err(errs ...error) Error                // attaches causes, keeps the message
	MsgErr(msg string, errs ...error) Error // Msg and Err in one call
	SetStatusCode(code int) Error           // HTTP status code for the error
	StatusCode() int                        // zero when unset
	ErrorAll() string                       // message followed by attached causes
	Causes() []error                        // attached causes in insertion order
}
