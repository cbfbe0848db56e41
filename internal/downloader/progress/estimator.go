// Package progress turns byte arrivals into percent, speed and ETA.
package progress

import "time"

// epsilon bounds the sampling interval away from zero, in seconds.
const epsilon = 1e-3

// Estimator derives the transfer rate from the delta between two samples.
// With Smoothing 0 the rate is the instantaneous rate of the last interval;
// a Smoothing in (0, 1) blends it with the previous rate as an exponential
// moving average. An Estimator is not safe for concurrent use.
type Estimator struct {
	Smoothing float64

	lastAt    time.Time
	lastBytes int64
	speed     float64
}

// NewEstimator creates an Estimator with the given smoothing factor.
func NewEstimator(smoothing float64) *Estimator {
	return &Estimator{Smoothing: smoothing}
}

// Reset starts a new sampling lineage, for a new session beginning at bytes.
func (e *Estimator) Reset(now time.Time, bytes int64) {
	e.lastAt = now
	e.lastBytes = bytes
	e.speed = 0
}

// Sample records that transferred bytes are on disk at now and returns the
// speed in bytes per second and the ETA in seconds. The ETA is 0 when the
// total is unknown or nothing is moving.
func (e *Estimator) Sample(now time.Time, transferred, total int64) (speed, eta float64) {
	dt := now.Sub(e.lastAt).Seconds()
	if dt < epsilon {
		dt = epsilon
	}

	db := transferred - e.lastBytes
	if db < 0 {
		db = 0
	}

	rate := float64(db) / dt
	if e.Smoothing > 0 && e.speed > 0 {
		rate = e.Smoothing*e.speed + (1-e.Smoothing)*rate
	}

	e.speed = rate
	e.lastAt = now
	e.lastBytes = transferred

	return rate, ETA(transferred, total, rate)
}

// ETA returns the seconds needed to move the remaining bytes at speed.
func ETA(transferred, total int64, speed float64) float64 {
	if total <= 0 || speed <= 0 {
		return 0
	}

	remaining := total - transferred
	if remaining <= 0 {
		return 0
	}

	return float64(remaining) / speed
}

// Percent returns floor(transferred/total*100) clamped to [0, 100], or 0
// when the total is unknown.
func Percent(transferred, total int64) int {
	if total <= 0 || transferred <= 0 {
		return 0
	}

	if transferred >= total {
		return 100
	}

	return int(transferred * 100 / total)
}
