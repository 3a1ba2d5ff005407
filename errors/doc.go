// Package errors provides structured error types for host calls and the
// engines built on them.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Host calls return a Status code; FromStatus and StatusOf convert
// between codes and errors:
//
//	if err := errors.FromStatus(status); err != nil {
//		return err
//	}
//
// Absence is not failure. The optional_none kind must be turned into an
// absent value by every caller that can receive it:
//
//	if errors.IsOptionalNone(err) {
//		return nil, false, nil
//	}
//
// Validation errors name the offending field and are raised before any host
// call:
//
//	err := errors.New(errors.PhaseValidate, errors.KindInvalidInput).
//		Path("max_age").
//		Detail("must not be negative").
//		Build()
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
