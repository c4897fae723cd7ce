// Package priority ranks tasks for placement: a discrete tier derived from the
// store's native priority, and a [0,1] score blending four heuristics.
package priority

import "github.com/harrisonrobin/tempo/pkg/model"

// Tier is an urgency bucket; lower values are more urgent.
type Tier int

const (
	P1Critical Tier = iota + 1
	P2High
	P3Medium
	P4Low
)

func (t Tier) String() string {
	switch t {
	case P1Critical:
		return "P1"
	case P2High:
		return "P2"
	case P3Medium:
		return "P3"
	default:
		return "P4"
	}
}

// NativePriority is the store value written back when persisting a tier.
func (t Tier) NativePriority() int {
	switch t {
	case P1Critical:
		return 5
	case P2High:
		return 3
	case P3Medium:
		return 1
	default:
		return 0
	}
}

// CanDisplace reports whether bookings of this tier may take over slots held
// by lower-urgency calendar events.
func (t Tier) CanDisplace() bool {
	return t <= P2High
}

// TierFromNative maps the store's 0-5 priority onto a tier.
func TierFromNative(p int) Tier {
	switch {
	case p >= 5:
		return P1Critical
	case p >= 3:
		return P2High
	case p >= 1:
		return P3Medium
	default:
		return P4Low
	}
}

// TierOf depends on the task's native priority only.
func TierOf(task model.Task) Tier {
	return TierFromNative(task.Priority)
}

// EventTier maps a keyword-inferred event priority (1 lowest .. 6 sport) onto a tier.
func EventTier(eventPriority int) Tier {
	switch {
	case eventPriority >= 5:
		return P1Critical
	case eventPriority == 4:
		return P2High
	case eventPriority == 3:
		return P3Medium
	default:
		return P4Low
	}
}
