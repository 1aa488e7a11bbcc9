// Package window evaluates pipeline creation times against a trailing rate window.
//
// Evaluation is a single comparison against one reference time. An event is inside the
// window iff its age in whole seconds is strictly less than the window width, and an
// alert fires only when an in-window count is strictly greater than its maximum.
package window

import (
	"time"

	"Buildwatch/internal/config"
)

// AgeSeconds returns the whole seconds elapsed from t to ref. Events stamped after ref
// (provider clock skew) have age 0.
func AgeSeconds(ref, t time.Time) int64 {
	d := ref.Sub(t)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Ages returns, per actor, the ages of events inside the window in input order. Actors
// with no in-window events are absent.
func Ages(created map[string][]time.Time, ref time.Time, windowSeconds int) map[string][]int64 {
	res := make(map[string][]int64)
	for actor, times := range created {
		for _, t := range times {
			if age := AgeSeconds(ref, t); age < int64(windowSeconds) {
				res[actor] = append(res[actor], age)
			}
		}
	}
	return res
}

// Violation is an actor whose in-window count exceeded max_per_actor
type Violation struct {
	Actor string
	Ages  []int64
}

func (v Violation) Count() int {
	return len(v.Ages)
}

// Result is the outcome of evaluating one fetch
type Result struct {
	Reference    time.Time
	Ages         map[string][]int64
	Violations   []Violation
	WindowEvents int
	GlobalAlert  bool
	// OldestInWindow is the earliest creation time that fell inside the window
	OldestInWindow time.Time
}

// UserAlert reports whether any actor violated the per-actor threshold
func (r Result) UserAlert() bool {
	return len(r.Violations) > 0
}

// PeakActorCount is the largest in-window count of any single actor
func (r Result) PeakActorCount() int {
	peak := 0
	for _, ages := range r.Ages {
		if len(ages) > peak {
			peak = len(ages)
		}
	}
	return peak
}

// Evaluate applies both threshold checks. Violations are reported in the order of actors,
// which callers pass in fetch order so alert text stays deterministic.
func Evaluate(actors []string, created map[string][]time.Time, ref time.Time, th config.Thresholds) Result {
	res := Result{
		Reference: ref,
		Ages:      Ages(created, ref, th.WindowSeconds),
	}

	for _, actor := range actors {
		ages := res.Ages[actor]
		if len(ages) > th.MaxPerActor {
			res.Violations = append(res.Violations, Violation{Actor: actor, Ages: ages})
		}
	}

	for _, times := range created {
		for _, t := range times {
			if AgeSeconds(ref, t) >= int64(th.WindowSeconds) {
				continue
			}
			res.WindowEvents++
			if res.OldestInWindow.IsZero() || t.Before(res.OldestInWindow) {
				res.OldestInWindow = t
			}
		}
	}
	res.GlobalAlert = res.WindowEvents > th.MaxGlobal

	return res
}
