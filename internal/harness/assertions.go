package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/livestate/internal/canonical"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Op)
			if event.Resource != "" {
				fmt.Fprintf(&buf, " %s", event.Resource)
			}
			if event.Target != "" {
				fmt.Fprintf(&buf, " %s", event.Target)
			}
			if event.Error != "" {
				fmt.Fprintf(&buf, " (error: %s)", event.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

func matches(event TraceEvent, op, resource string) bool {
	return event.Op == op && (resource == "" || event.Resource == resource)
}

// assertData compares a resource's final data with the expected value by
// canonical form, so 3 and 3.0 are equal.
func assertData(result *Result, a Assertion) error {
	got, ok := result.Final[a.Resource]
	if !ok {
		return &AssertionError{
			Type:     AssertData,
			Expected: fmt.Sprintf("final data for %s", a.Resource),
			Actual:   "resource was not read",
		}
	}
	if canonical.Equal(got, a.Expect) {
		return nil
	}
	return &AssertionError{
		Type:     AssertData,
		Expected: fmt.Sprintf("%s = %s", a.Resource, render(a.Expect)),
		Actual:   fmt.Sprintf("%s = %s", a.Resource, render(got)),
	}
}

func render(v any) string {
	data, err := canonical.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// assertTraceContains checks that a step with the op (and resource, if
// given) ran.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matches(event, a.Op, a.Resource) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("step %s %s", a.Op, a.Resource),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks that the op ran exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, a.Op, a.Resource) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the ops appear in order. Other steps may
// run in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Ops) && matches(event, a.Ops[next], a.Resource) {
			next++
		}
	}
	if next < len(a.Ops) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("ops in order: %v", a.Ops),
			Actual:   fmt.Sprintf("missing %s after %v", a.Ops[next], a.Ops[:next]),
			Trace:    trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result and
// returns the messages of the failed ones.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertData:
			err = assertData(result, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
