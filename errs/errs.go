// Package errs provides structured error types and helpers for shmpub components.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeExhausted indicates a bounded resource could not satisfy the request.
	CodeExhausted Code = "exhausted"
	// CodeUnavailable indicates the component is temporarily unable to serve the request.
	CodeUnavailable Code = "unavailable"
	// CodeClosed indicates the component was shut down.
	CodeClosed Code = "closed"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
)

// Retryable reports whether an operation failing with c may succeed later
// without caller changes.
func (c Code) Retryable() bool {
	return c == CodeUnavailable || c == CodeNetwork || c == CodeConflict
}

// E is the error envelope returned by shmpub components. Component names the
// failing operation as "package/operation".
type E struct {
	Component   string
	Code        Code
	Message     string
	Remediation string
	Details     map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{Component: strings.TrimSpace(component), Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Invalid is shorthand for a CodeInvalid envelope carrying a message.
func Invalid(component, msg string) *E {
	return New(component, CodeInvalid, WithMessage(msg))
}

// WithMessage attaches a human-readable message.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithRemediation tells the operator what to change.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) { e.Remediation = trimmed }
}

// WithCause sets the wrapped error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

// WithDetail records one key/value pair. Blank keys are ignored and later
// values win.
func WithDetail(key, value string) Option {
	return func(e *E) { e.setDetail(key, value) }
}

// WithDetails records every pair of details.
func WithDetails(details map[string]string) Option {
	return func(e *E) {
		for k, v := range details {
			e.setDetail(k, v)
		}
	}
}

func (e *E) setDetail(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	if e.Details == nil {
		e.Details = make(map[string]string, 2)
	}
	e.Details[key] = strings.TrimSpace(value)
}

// Error renders the envelope as space separated key=value pairs with the
// details sorted by key.
func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("component=")
	b.WriteString(orUnknown(e.Component))
	b.WriteString(" code=")
	b.WriteString(orUnknown(string(e.Code)))
	writeQuoted(&b, "message", e.Message)
	writeQuoted(&b, "remediation", e.Remediation)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" details=")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(strconv.Quote(e.Details[k]))
		}
	}
	if e.cause != nil {
		writeQuoted(&b, "cause", e.cause.Error())
	}
	return b.String()
}

func (e *E) Unwrap() error { return e.cause }

// Is matches another envelope carrying the same code, so callers can test
// errors.Is(err, errs.New("", errs.CodeClosed)).
func (e *E) Is(target error) bool {
	var t *E
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	if t.Component != "" && t.Component != e.Component {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first envelope found in the error chain.
func CodeOf(err error) (Code, bool) {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code, true
	}
	return "", false
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}

func writeQuoted(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(strconv.Quote(value))
}
