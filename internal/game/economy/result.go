// Package economy exposes the consumer-facing structure operations and the
// daily upkeep and income cycle.
package economy

import "fmt"

// Result is the outcome of a consumer operation: success plus a human-readable reason.
type Result struct {
	OK     bool
	Reason string
}

func succeed(format string, args ...any) Result {
	return Result{OK: true, Reason: fmt.Sprintf(format, args...)}
}

func reject(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

func (r Result) String() string {
	if r.OK {
		return "ok: " + r.Reason
	}
	return "rejected: " + r.Reason
}
