package harness

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/relhist/internal/engine"
	"github.com/roach88/relhist/internal/row"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Subject  string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " (%s)", e.Subject)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the engine's durable
// history and returns one message per failure.
func EvaluateAssertions(ctx context.Context, eng *engine.Engine, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertMembers:
			err = assertMembers(ctx, eng, a)
		case AssertVersionCount:
			err = assertVersionCount(ctx, eng, a)
		case AssertVersionValues:
			err = assertVersionValues(ctx, eng, a)
		case AssertTransactionCount:
			err = assertTransactionCount(ctx, eng, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func versionAt(ctx context.Context, eng *engine.Engine, a Assertion) (*engine.Version, error) {
	versions, err := eng.Versions(ctx, a.Entity, a.ID)
	if err != nil {
		return nil, err
	}
	if a.Version >= len(versions) {
		return nil, &AssertionError{
			Type:     a.Type,
			Subject:  fmt.Sprintf("%s:%s", a.Entity, a.ID),
			Expected: fmt.Sprintf("version %d", a.Version),
			Actual:   fmt.Sprintf("%d versions", len(versions)),
		}
	}
	return versions[a.Version], nil
}

func assertMembers(ctx context.Context, eng *engine.Engine, a Assertion) error {
	v, err := versionAt(ctx, eng, a)
	if err != nil {
		return err
	}
	members, err := v.Relationship(ctx, a.Role)
	if err != nil {
		return err
	}

	actual := make([]string, len(members))
	for i, m := range members {
		actual[i] = m.Key().String()
	}
	if !equalStrings(a.Expect, actual) {
		return &AssertionError{
			Type:     a.Type,
			Subject:  fmt.Sprintf("%s.%s", v.Key(), a.Role),
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func assertVersionCount(ctx context.Context, eng *engine.Engine, a Assertion) error {
	versions, err := eng.Versions(ctx, a.Entity, a.ID)
	if err != nil {
		return err
	}
	if len(versions) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Subject:  fmt.Sprintf("%s:%s", a.Entity, a.ID),
			Expected: fmt.Sprintf("%d versions", a.Count),
			Actual:   fmt.Sprintf("%d versions", len(versions)),
		}
	}
	return nil
}

func assertVersionValues(ctx context.Context, eng *engine.Engine, a Assertion) error {
	v, err := versionAt(ctx, eng, a)
	if err != nil {
		return err
	}
	expected, err := row.ValuesFromGo(a.Values)
	if err != nil {
		return fmt.Errorf("expected values: %w", err)
	}
	if !row.Equal(expected, v.Values) {
		want, _ := row.MarshalCanonical(expected)
		got, _ := row.MarshalCanonical(v.Values)
		return &AssertionError{
			Type:     a.Type,
			Subject:  v.Key().String(),
			Expected: string(want),
			Actual:   string(got),
		}
	}
	return nil
}

func assertTransactionCount(ctx context.Context, eng *engine.Engine, a Assertion) error {
	txs, err := eng.Transactions(ctx, 0, math.MaxInt32)
	if err != nil {
		return err
	}
	if len(txs) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d transactions", a.Count),
			Actual:   fmt.Sprintf("%d transactions", len(txs)),
		}
	}
	return nil
}

// equalStrings treats nil and empty as equal.
func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
