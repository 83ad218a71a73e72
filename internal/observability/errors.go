package observability

import (
	"strconv"
	"strings"
)

// MultiError is the result of a fan-out in which several targets failed.
type MultiError struct {
	Operation string
	Errs      []error
}

func (m *MultiError) Error() string {
	var b strings.Builder
	b.WriteString(m.Operation)
	b.WriteString(" failed (")
	b.WriteString(strconv.Itoa(len(m.Errs)))
	b.WriteString(" errors): ")
	for i, err := range m.Errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error { return m.Errs }

// AggregateErrors drops nil entries, logs the remainder once at error level
// through the global logger and returns them as a *MultiError. It returns nil
// when nothing failed.
func AggregateErrors(operation string, errs []error, fields ...Field) error {
	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	messages := make([]string, len(failed))
	for i, err := range failed {
		messages[i] = err.Error()
	}
	Log().Error("operation errors", append(fields,
		F("operation", operation),
		F("error_count", len(failed)),
		F("errors", messages),
	)...)
	return &MultiError{Operation: operation, Errs: failed}
}
