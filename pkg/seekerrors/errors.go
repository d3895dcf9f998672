// Package seekerrors provides structured error handling for wikidataseekmed
// with error categorization, contextual details, and stack capture.
//
// The converter's failure taxonomy is small and deliberate: source,
// decompression and write failures are fatal for a run (the dump is a public,
// replaceable snapshot, so the remedy is re-running, not resuming), while
// individual malformed records are recoverable and merely counted. Framing
// errors indicate an internal invariant violation and should never occur on
// well-formed input.
package seekerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType categorizes a pipeline failure.
type ErrorType string

const (
	// ErrorTypeSource represents network/HTTP failures on the dump stream. Fatal.
	ErrorTypeSource ErrorType = "source"
	// ErrorTypeDecompress represents corrupt or truncated compressed data. Fatal.
	ErrorTypeDecompress ErrorType = "decompress"
	// ErrorTypeFraming represents a framer invariant violation. Internal bug.
	ErrorTypeFraming ErrorType = "framing"
	// ErrorTypeRecordParse represents one malformed entity object. Recoverable.
	ErrorTypeRecordParse ErrorType = "record_parse"
	// ErrorTypeWrite represents an I/O failure on the output file. Fatal.
	ErrorTypeWrite ErrorType = "write"
	// ErrorTypeConfig represents invalid configuration. Fatal before start.
	ErrorTypeConfig ErrorType = "config"
)

// Error is a structured error with a category, contextual details and the
// call stack captured at creation.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is one frame of the captured call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key-value detail. Chainable.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given type, capturing the call stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with a type and message, preserving the cause.
// If err is already a structured Error its original stack is kept. Returns nil
// for a nil err.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether err is (or wraps) a structured error of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsFatal reports whether the error category aborts the whole run. Only
// individual record parse failures are survivable; everything else ends the
// pipeline after a best-effort flush.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		// Unclassified errors are treated as fatal.
		return true
	}
	return e.Type != ErrorTypeRecordParse
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
