// Package filter matches classified assets against user-selected criteria.
// Matching is pure and order-preserving so listing indices stay stable.
package filter

import (
	"fmt"

	"github.com/mbfetch/mbfetch/internal/classify"
)

// Criteria holds one desired value per classification axis. An axis set to
// its Any value (or left at the zero value) matches every asset on that
// axis. Criteria has a single writer at a time; it is a plain value and
// carries no synchronization of its own.
type Criteria struct {
	Arch       classify.Arch           `json:"arch"`
	Threads    classify.ThreadModel    `json:"threads"`
	Exceptions classify.ExceptionModel `json:"exceptions"`
	CRuntime   classify.CRuntime       `json:"crt"`
	Runtime    classify.RuntimeVersion `json:"runtime"`
}

// All returns criteria with every axis set to Any, matching every asset.
func All() Criteria {
	return Criteria{
		Arch:       classify.ArchAny,
		Threads:    classify.ThreadsAny,
		Exceptions: classify.ExceptionsAny,
		CRuntime:   classify.CRuntimeAny,
		Runtime:    classify.RuntimeAny,
	}
}

// Matches reports whether tags satisfy the criteria: every axis is either
// a wildcard or equal to the detected value.
func (c Criteria) Matches(t classify.Tags) bool {
	if !axisMatches(string(c.Arch), string(t.Arch)) {
		return false
	}
	if !axisMatches(string(c.Threads), string(t.Threads)) {
		return false
	}
	if !axisMatches(string(c.Exceptions), string(t.Exceptions)) {
		return false
	}
	if !axisMatches(string(c.CRuntime), string(t.CRuntime)) {
		return false
	}
	if !axisMatches(string(c.Runtime), string(t.Runtime)) {
		return false
	}
	return true
}

func axisMatches(want, got string) bool {
	return want == "" || want == "any" || want == got
}

// Classified is any value exposing its classification tags.
type Classified interface {
	ClassTags() classify.Tags
}

// Match pairs a matching item with its index in the original sequence.
type Match[T any] struct {
	Index int
	Value T
}

// Apply returns the items whose tags satisfy the criteria, in their
// original relative order, each paired with its original index. Applying
// all-Any criteria reproduces the full input sequence.
func Apply[T Classified](c Criteria, items []T) []Match[T] {
	matches := make([]Match[T], 0, len(items))
	for i, item := range items {
		if c.Matches(item.ClassTags()) {
			matches = append(matches, Match[T]{Index: i, Value: item})
		}
	}
	return matches
}

// Parse builds criteria from the textual axis values used by CLI flags and
// API requests. Empty strings and "any" are wildcards; anything else must
// name a known value for its axis.
func Parse(arch, threads, exceptions, crt, runtime string) (Criteria, error) {
	c := All()

	switch arch {
	case "", "any":
	case string(classify.ArchI686):
		c.Arch = classify.ArchI686
	case string(classify.ArchX86_64):
		c.Arch = classify.ArchX86_64
	default:
		return Criteria{}, fmt.Errorf("unknown arch %q (valid: any, i686, x86_64)", arch)
	}

	switch threads {
	case "", "any":
	case string(classify.ThreadsPosix):
		c.Threads = classify.ThreadsPosix
	case string(classify.ThreadsWin32):
		c.Threads = classify.ThreadsWin32
	case string(classify.ThreadsMcf):
		c.Threads = classify.ThreadsMcf
	default:
		return Criteria{}, fmt.Errorf("unknown thread model %q (valid: any, posix, win32, mcf)", threads)
	}

	switch exceptions {
	case "", "any":
	case string(classify.ExceptionsSeh):
		c.Exceptions = classify.ExceptionsSeh
	case string(classify.ExceptionsDwarf):
		c.Exceptions = classify.ExceptionsDwarf
	default:
		return Criteria{}, fmt.Errorf("unknown exception model %q (valid: any, seh, dwarf)", exceptions)
	}

	switch crt {
	case "", "any":
	case string(classify.CRuntimeUcrt):
		c.CRuntime = classify.CRuntimeUcrt
	case string(classify.CRuntimeMsvcrt):
		c.CRuntime = classify.CRuntimeMsvcrt
	default:
		return Criteria{}, fmt.Errorf("unknown C runtime %q (valid: any, ucrt, msvcrt)", crt)
	}

	switch runtime {
	case "", "any":
	case string(classify.RuntimeV13), "v13":
		c.Runtime = classify.RuntimeV13
	default:
		return Criteria{}, fmt.Errorf("unknown runtime version %q (valid: any, v13)", runtime)
	}

	return c, nil
}
