package cluster

import "github.com/kalambet/flowx/internal/model"

// minDurationMinutes floors session duration when computing the switch
// rate so near-instant sessions cannot divide by zero.
const minDurationMinutes = 0.1

// FrictionRate returns context switches per minute, with the duration
// floored at minDurationMinutes.
func FrictionRate(switches int, durationMinutes float64) float64 {
	d := durationMinutes
	if d < minDurationMinutes {
		d = minDurationMinutes
	}
	return float64(switches) / d
}

// ScoreFriction maps a switch rate onto the four-level friction scale:
// rate > 3.0 CRITICAL, > 1.5 HIGH, > 0.5 MEDIUM, otherwise LOW.
func ScoreFriction(rate float64) model.FrictionLevel {
	switch {
	case rate > 3.0:
		return model.FrictionCritical
	case rate > 1.5:
		return model.FrictionHigh
	case rate > 0.5:
		return model.FrictionMedium
	default:
		return model.FrictionLow
	}
}
