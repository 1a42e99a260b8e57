package placement

import (
	"math"
	"time"
)

// CooldownMode selects how the wait between free placements is computed.
type CooldownMode string

const (
	CooldownStatic   CooldownMode = "static"
	CooldownActivity CooldownMode = "activity"
)

// ActivityCurve is the tunable load curve s*sqrt(x+u)+t, scaled by m.
type ActivityCurve struct {
	Steepness    float64
	UserOffset   float64
	GlobalOffset float64
	Multiplier   float64
}

// CooldownPolicy computes cooldowns in whole seconds.
type CooldownPolicy struct {
	Mode     CooldownMode
	Static   time.Duration
	Activity ActivityCurve
}

// Seconds returns the cooldown for activeUsers non-idle users.
// Activity mode takes the absolute value after offsets and multiplier and truncates.
func (p CooldownPolicy) Seconds(activeUsers int) int {
	if p.Mode != CooldownActivity {
		return max(int(p.Static/time.Second), 0)
	}

	c := p.Activity
	cooldown := c.Steepness*math.Sqrt(float64(activeUsers)+c.UserOffset) + c.GlobalOffset
	cooldown *= c.Multiplier

	return int(math.Abs(cooldown))
}

// BackgroundPixelPolicy scales the cooldown for placements over pixels that
// the store reports as increasing the placer's dwell time.
type BackgroundPixelPolicy struct {
	Enabled    bool
	Multiplier float64
}

// Apply scales seconds by the multiplier, rounding to the nearest second.
func (p BackgroundPixelPolicy) Apply(seconds int) int {
	return int(math.Round(float64(seconds) * p.Multiplier))
}
