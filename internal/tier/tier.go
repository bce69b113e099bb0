package tier

import (
	"statusbot/internal/probe"
)

// Tier is the quality classification of a target's reachability.
type Tier int

const (
	Green Tier = iota
	Amber
	Red
	Down
)

// Code is the classifier's verdict for one cycle: the new tier's code on a
// change, or NoChange.
type Code int

const NoChange Code = -1

func (t Tier) Code() Code {
	return Code(t)
}

func (t Tier) String() string {
	switch t {
	case Green:
		return "GREEN"
	case Amber:
		return "AMBER"
	case Red:
		return "RED"
	case Down:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

func (t Tier) Icon() string {
	switch t {
	case Green:
		return "\U0001F7E2"
	case Amber:
		return "\U0001F7E1"
	case Red:
		return "\U0001F534"
	case Down:
		return "☠"
	default:
		return "?"
	}
}

// Thresholds are average-latency bounds in milliseconds. Latency at or below
// Amber is green, strictly between is amber, at or above Red is red.
type Thresholds struct {
	Amber float64
	Red   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Amber: 120, Red: 200}
}

func (th Thresholds) Classify(result probe.Result) Tier {
	switch {
	case !result.Reachable:
		return Down
	case result.AverageLatency >= th.Red:
		return Red
	case result.AverageLatency > th.Amber:
		return Amber
	default:
		return Green
	}
}
