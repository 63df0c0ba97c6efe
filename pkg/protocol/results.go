package protocol

import (
	"fmt"
	"strings"
)

// Result of a completed build request or buildset.
// The numeric values are the ones stored in the database.
type Result int

const (
	// Not complete yet
	ResultNone      Result = -1
	ResultSuccess   Result = 0
	ResultWarnings  Result = 1
	ResultFailure   Result = 2
	ResultException Result = 4
	ResultCancelled Result = 6
)

var resultNames = map[Result]string{
	ResultNone:      "",
	ResultSuccess:   "success",
	ResultWarnings:  "warnings",
	ResultFailure:   "failure",
	ResultException: "exception",
	ResultCancelled: "cancelled",
}

// Ordering used when aggregating results, independent of the stored value.
var resultSeverity = map[Result]int{
	ResultNone:      -1,
	ResultSuccess:   0,
	ResultWarnings:  1,
	ResultFailure:   2,
	ResultException: 3,
	ResultCancelled: 4,
}

func (r Result) Valid() bool {
	_, ok := resultNames[r]
	return ok
}

// Severity ranks results: success < warnings < failure < exception < cancelled.
func (r Result) Severity() int {
	if s, ok := resultSeverity[r]; ok {
		return s
	}
	return -1
}

// Returns true if r is strictly worse than other.
func (r Result) WorseThan(other Result) bool {
	return r.Severity() > other.Severity()
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		if name == "" {
			return "none"
		}
		return name
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

func (r Result) MarshalText() ([]byte, error) {
	name, ok := resultNames[r]
	if !ok {
		return nil, fmt.Errorf("invalid result: %d", int(r))
	}
	return []byte(name), nil
}

func (r *Result) UnmarshalText(data []byte) error {
	result, err := ParseResult(string(data))
	if err != nil {
		return err
	}
	*r = result
	return nil
}

func ParseResult(name string) (Result, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "none" {
		return ResultNone, nil
	}
	for result, n := range resultNames {
		if n == name {
			return result, nil
		}
	}
	return ResultNone, fmt.Errorf("invalid result: %q", name)
}

// Returns the most severe of the results, or ResultNone for an empty list.
func Worst(results ...Result) Result {
	worst := ResultNone
	for _, result := range results {
		if result.WorseThan(worst) {
			worst = result
		}
	}
	return worst
}

// Aggregates the results of all requests in a buildset.
// The buildset succeeds, possibly with warnings, if no request did
// worse than warnings. Otherwise it fails.
func Aggregate(results ...Result) Result {
	worst := Worst(results...)
	if worst == ResultNone {
		return ResultSuccess
	}
	if worst.Severity() <= ResultWarnings.Severity() {
		return worst
	}
	return ResultFailure
}
