// Package fudger degrades fine locations into coarse ones. A coarse
// location is offset by a slowly wandering random vector and then snapped
// to a grid whose cell size matches the configured coarse accuracy, so
// repeated queries cannot be averaged back into a fine position.
package fudger

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/grovetools/locmux/clock"
	"github.com/grovetools/locmux/location"
)

const (
	// MinAccuracyM is the floor on the configured coarse accuracy.
	MinAccuracyM = 200.0

	// offsetUpdateInterval is how often the random offset takes a step.
	offsetUpdateInterval = time.Hour

	// changePerInterval is the weight of the fresh random component in
	// each offset step.
	changePerInterval = 0.03

	metersPerDegreeAtEquator = 111000.0

	// maxLatitude keeps the offset and grid math away from the poles,
	// where longitude degrees degenerate.
	maxLatitude = 90.0 - 1.0/metersPerDegreeAtEquator
)

var previousWeight = math.Sqrt(1 - changePerInterval*changePerInterval)

// Fudger converts fine locations to coarse ones.
type Fudger struct {
	clk clock.Clock

	mu           sync.Mutex
	accuracyM    float64
	latOffsetM   float64
	lngOffsetM   float64
	nextStepAt   time.Duration
	rng          *rand.Rand
	cachedFine   *location.Location
	cachedCoarse *location.Location
}

// New returns a Fudger producing locations no finer than accuracyM
// meters. Accuracies below MinAccuracyM are raised to it.
func New(clk clock.Clock, accuracyM float64) *Fudger {
	f := &Fudger{
		clk: clk,
		rng: rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
	f.setAccuracyLocked(accuracyM)
	return f
}

// SetAccuracy changes the coarse accuracy and regenerates the offsets.
func (f *Fudger) SetAccuracy(accuracyM float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setAccuracyLocked(accuracyM)
}

func (f *Fudger) setAccuracyLocked(accuracyM float64) {
	f.accuracyM = math.Max(accuracyM, MinAccuracyM)
	f.resetOffsetsLocked()
}

// ResetOffsets discards the current offsets and draws new ones. Invoked
// when a mock provider is removed so the real offsets cannot be derived
// from mock sessions.
func (f *Fudger) ResetOffsets() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetOffsetsLocked()
}

func (f *Fudger) resetOffsetsLocked() {
	f.latOffsetM = f.nextOffsetLocked()
	f.lngOffsetM = f.nextOffsetLocked()
	f.nextStepAt = f.clk.ElapsedRealtime() + offsetUpdateInterval
	f.cachedFine = nil
	f.cachedCoarse = nil
}

func (f *Fudger) nextOffsetLocked() float64 {
	return (2*f.rng.Float64() - 1) * f.accuracyM
}

// CreateCoarse derives the coarse counterpart of a fine location. The
// same fine location yields the same coarse location until the offsets
// step.
func (f *Fudger) CreateCoarse(fine *location.Location) *location.Location {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stepOffsetsLocked()

	if f.cachedFine != nil && *f.cachedFine == *fine {
		return f.cachedCoarse.Clone()
	}

	coarse := fine.Clone()

	lat := clamp(coarse.Latitude, -maxLatitude, maxLatitude)
	lng := wrapLongitude(coarse.Longitude)

	lat += metersToDegreesLatitude(f.latOffsetM)
	lng += metersToDegreesLongitude(f.lngOffsetM, lat)

	latGrid := metersToDegreesLatitude(f.accuracyM)
	lngGrid := metersToDegreesLongitude(f.accuracyM, lat)
	lat = math.Round(lat/latGrid) * latGrid
	lng = math.Round(lng/lngGrid) * lngGrid

	coarse.Latitude = clamp(lat, -maxLatitude, maxLatitude)
	coarse.Longitude = wrapLongitude(lng)
	coarse.Accuracy = math.Max(coarse.Accuracy, f.accuracyM)
	coarse.HasAccuracy = true

	f.cachedFine = fine.Clone()
	f.cachedCoarse = coarse.Clone()
	return coarse
}

func (f *Fudger) stepOffsetsLocked() {
	now := f.clk.ElapsedRealtime()
	if now < f.nextStepAt {
		return
	}
	f.latOffsetM = previousWeight*f.latOffsetM + changePerInterval*f.nextOffsetLocked()
	f.lngOffsetM = previousWeight*f.lngOffsetM + changePerInterval*f.nextOffsetLocked()
	f.nextStepAt = now + offsetUpdateInterval
	f.cachedFine = nil
	f.cachedCoarse = nil
}

func metersToDegreesLatitude(m float64) float64 {
	return m / metersPerDegreeAtEquator
}

func metersToDegreesLongitude(m float64, latDegrees float64) float64 {
	return m / metersPerDegreeAtEquator / math.Cos(latDegrees*math.Pi/180)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func wrapLongitude(lng float64) float64 {
	lng = math.Mod(lng, 360)
	if lng >= 180 {
		lng -= 360
	} else if lng < -180 {
		lng += 360
	}
	return lng
}
