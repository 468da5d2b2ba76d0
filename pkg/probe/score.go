package probe

import (
	"math"
	"time"
)

// Features are the derived behavioral measurements a score is computed
// from. All of them are recomputed from the session's full accumulated
// window on every flush.
type Features struct {
	TotalMouseEvents      int
	TotalClickEvents      int
	MovementUniformity    float64 // [0,1]; 1 means perfectly mechanical movement
	ClickIntervalVariance float64 // seconds squared
	IdleRatio             float64 // [0,1]; share of the window with no activity
	ObservationWindow     time.Duration
}

// Score reduces features to a bot likelihood in [0,100]. The heuristic is
// additive: each mechanical-looking trait contributes independently, so
// the score is non-decreasing as any single trait gets more mechanical.
func Score(f Features) int {
	score := 0.0

	// Near-linear, near-constant-velocity movement. Humans jitter;
	// scripted pointers do not. Contributes up to 40 points, scaling
	// with how uniform the path is once it crosses a plausibility floor.
	if f.TotalMouseEvents >= 10 && f.MovementUniformity > 0.5 {
		score += 40 * (f.MovementUniformity - 0.5) / 0.5
	}

	// Implausibly regular clicking. With at least three clicks, a
	// near-zero interval variance means metronome timing. Up to 30 points.
	if f.TotalClickEvents >= 3 {
		switch {
		case f.ClickIntervalVariance < 0.0005:
			score += 30
		case f.ClickIntervalVariance < 0.005:
			score += 15
		}
	}

	// Near-zero interaction over a long observation window: a session
	// that sits idle for minutes and then acts is not a person browsing.
	// Up to 30 points.
	if f.ObservationWindow >= time.Minute && f.IdleRatio > 0.9 &&
		f.TotalMouseEvents+f.TotalClickEvents < 5 {
		score += 30
	}

	return clampScore(score)
}

func clampScore(s float64) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return int(math.Round(s))
}

// movementUniformity measures how mechanical a pointer path looks, from
// the speeds between consecutive samples and the path's straightness.
// Returns a value in [0,1].
func movementUniformity(points []pointSample) float64 {
	if len(points) < 3 {
		return 0
	}

	speeds := make([]float64, 0, len(points)-1)
	pathLength := 0.0
	for i := 1; i < len(points); i++ {
		dx := points[i].x - points[i-1].x
		dy := points[i].y - points[i-1].y
		dist := math.Hypot(dx, dy)
		pathLength += dist
		dt := points[i].at.Sub(points[i-1].at).Seconds()
		if dt > 0 {
			speeds = append(speeds, dist/dt)
		}
	}
	if len(speeds) < 2 || pathLength == 0 {
		return 0
	}

	// Velocity consistency: 1 - coefficient of variation, clamped.
	mean := 0.0
	for _, s := range speeds {
		mean += s
	}
	mean /= float64(len(speeds))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, s := range speeds {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(speeds))
	velocityConsistency := 1 - math.Sqrt(variance)/mean
	if velocityConsistency < 0 {
		velocityConsistency = 0
	}

	// Straightness: net displacement over path length. 1 is a perfect line.
	net := math.Hypot(
		points[len(points)-1].x-points[0].x,
		points[len(points)-1].y-points[0].y,
	)
	straightness := net / pathLength

	return (velocityConsistency + straightness) / 2
}

// intervalVariance is the variance of the gaps between consecutive
// timestamps, in seconds squared. Fewer than three timestamps yield 0;
// Score only consults the variance once enough clicks have accumulated.
func intervalVariance(times []time.Time) float64 {
	if len(times) < 3 {
		return 0
	}

	intervals := make([]float64, len(times)-1)
	mean := 0.0
	for i := 1; i < len(times); i++ {
		intervals[i-1] = times[i].Sub(times[i-1]).Seconds()
		mean += intervals[i-1]
	}
	mean /= float64(len(intervals))

	variance := 0.0
	for _, iv := range intervals {
		variance += (iv - mean) * (iv - mean)
	}
	return variance / float64(len(intervals))
}
