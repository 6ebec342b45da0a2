package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// LinkError collects every referential/structural violation found
// during a single link-up pass. All violations are gathered before
// returning (see DESIGN.md, Open Question 1) rather than failing on
// the first one, so a config author can fix every problem in one
// round-trip.
type LinkError struct {
	Violations []error
}

func (e *LinkError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("link-up failed with %d violation(s):\n%s", len(e.Violations), strings.Join(msgs, "\n"))
}

// collector accumulates violations found while walking the raw
// document, each wrapped with github.com/pkg/errors so a stack trace
// is attached at the point the violation was detected.
type collector struct {
	violations []error
}

func (c *collector) addf(format string, args ...any) {
	c.violations = append(c.violations, errors.Errorf(format, args...))
}

func (c *collector) err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return &LinkError{Violations: c.violations}
}
