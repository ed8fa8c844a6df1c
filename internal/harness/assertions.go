package harness

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/netrunner/regfeed/internal/ir"
)

// ExpectationError describes one mismatch between a settled result and
// the scenario's expectations.
type ExpectationError struct {
	Subject  string // what was checked, e.g. "entry svc/api"
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ExpectationError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Subject, e.Expected, e.Actual)
}

// CheckExpectations compares result against expect and returns one
// message per mismatch, in a stable order.
func CheckExpectations(result *Result, expect Expect) []string {
	var errs []error

	if expect.Writer != nil && string(result.Writer) != *expect.Writer {
		errs = append(errs, &ExpectationError{
			Subject:  "writer",
			Expected: describeWriter(*expect.Writer),
			Actual:   describeWriter(string(result.Writer)),
		})
	}

	for _, want := range expect.Entries {
		if err := checkEntry(result, want); err != nil {
			errs = append(errs, err)
		}
	}

	for _, name := range expect.Absent {
		if got, ok := result.Lookup(name); ok {
			errs = append(errs, &ExpectationError{
				Subject:  "entry " + name,
				Expected: "nothing stored",
				Actual:   describeEntry(got),
			})
		}
	}

	if expect.Count != nil && len(result.State) != *expect.Count {
		errs = append(errs, &ExpectationError{
			Subject:  "count",
			Expected: fmt.Sprintf("%d stored entries", *expect.Count),
			Actual:   fmt.Sprintf("%d", len(result.State)),
		})
	}

	if len(expect.Stats) > 0 {
		got := statsMap(result.Stats)
		names := make([]string, 0, len(expect.Stats))
		for name := range expect.Stats {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if got[name] != expect.Stats[name] {
				errs = append(errs, &ExpectationError{
					Subject:  "stats." + name,
					Expected: fmt.Sprintf("%d", expect.Stats[name]),
					Actual:   fmt.Sprintf("%d", got[name]),
				})
			}
		}
	}

	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return msgs
}

func checkEntry(result *Result, want EntrySpec) error {
	subject := "entry " + want.Name
	got, ok := result.Lookup(want.Name)
	if !ok {
		return &ExpectationError{Subject: subject, Expected: "a stored entry", Actual: "nothing"}
	}

	if want.Seq != 0 && got.Seq != want.Seq {
		return &ExpectationError{Subject: subject + " seq", Expected: fmt.Sprint(want.Seq), Actual: fmt.Sprint(got.Seq)}
	}
	if want.Author != "" && string(got.Author) != want.Author {
		return &ExpectationError{Subject: subject + " author", Expected: want.Author, Actual: string(got.Author)}
	}
	if got.Tombstone != want.Tombstone {
		return &ExpectationError{Subject: subject + " tombstone", Expected: fmt.Sprint(want.Tombstone), Actual: fmt.Sprint(got.Tombstone)}
	}
	if want.Value != nil {
		value, err := ir.ObjectFromAny(want.Value)
		if err != nil {
			return &ExpectationError{Subject: subject + " value", Expected: "a valid value", Actual: err.Error()}
		}
		if !reflect.DeepEqual(value, got.Value) {
			return &ExpectationError{Subject: subject + " value", Expected: describeValue(value), Actual: describeValue(got.Value)}
		}
	}
	return nil
}

func describeWriter(id string) string {
	if id == "" {
		return "no writer"
	}
	return id
}

func describeEntry(e EntryState) string {
	if e.Tombstone {
		return fmt.Sprintf("tombstone %d@%s", e.Seq, e.Author)
	}
	return fmt.Sprintf("%s at %d@%s", describeValue(e.Value), e.Seq, e.Author)
}

func describeValue(v ir.IRObject) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", map[string]ir.IRValue(v))
	}
	return string(data)
}
