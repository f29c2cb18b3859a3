package feed

import (
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/locmux/clock"
	"github.com/grovetools/locmux/location"
	"github.com/grovetools/locmux/logging"
	"github.com/grovetools/locmux/manager"
)

// WalkName is the provider name stamped on synthesized fixes.
const WalkName = "walk"

const (
	// walkSpeedMPS is the nominal pedestrian speed of the synthetic track.
	walkSpeedMPS = 1.4

	// fastest the walk driver will produce fixes, whatever is requested
	walkMinInterval = 200 * time.Millisecond

	// cap so a passive-ish merged interval still yields the odd fix
	walkMaxInterval = time.Minute

	metersPerDegree = 111000.0
)

// Walk synthesizes a random pedestrian track, producing one fix per
// requested interval. It goes quiet when the merged request is disabled and
// resumes where it left off.
type Walk struct {
	base

	clk    clock.Clock
	logger *logrus.Entry
	rng    *rand.Rand

	lat     float64
	lng     float64
	heading float64

	timer clock.Timer
	gen   uint64
}

// NewWalk builds a walk driver starting at the given position.
func NewWalk(clk clock.Clock, lat, lng float64) *Walk {
	return &Walk{
		base:    newBase(manager.ProviderProperties{PowerUsage: manager.PowerUsageMedium, AccuracyM: 10}),
		clk:     clk,
		logger:  logging.NewLogger("feed").WithField("driver", WalkName),
		rng:     rand.New(rand.NewSource(clk.Now().UnixNano())),
		lat:     lat,
		lng:     lng,
		heading: 0,
	}
}

// SetRequest reschedules the fix timer for the new merged interval. Called
// with the manager lock held, so it never reports synchronously.
func (w *Walk) SetRequest(req location.ProviderRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.req = req
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if !req.Active() {
		w.logger.Debug("walk idle")
		return
	}
	w.scheduleLocked(w.interval(req))
}

// Stop cancels any pending fix.
func (w *Walk) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Walk) interval(req location.ProviderRequest) time.Duration {
	interval := req.Interval
	if interval < walkMinInterval {
		interval = walkMinInterval
	}
	if interval > walkMaxInterval {
		interval = walkMaxInterval
	}
	return interval
}

func (w *Walk) scheduleLocked(after time.Duration) {
	gen := w.gen
	w.timer = w.clk.AfterFunc(after, func() {
		w.tick(gen)
	})
}

func (w *Walk) tick(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || !w.req.Active() {
		w.mu.Unlock()
		return
	}

	interval := w.interval(w.req)
	w.stepLocked(interval)
	loc := &location.Location{
		Provider:        WalkName,
		Latitude:        w.lat,
		Longitude:       w.lng,
		Accuracy:        3 + w.rng.Float64()*12,
		HasAccuracy:     true,
		Time:            w.clk.Now(),
		ElapsedRealtime: w.clk.ElapsedRealtime(),
	}
	w.scheduleLocked(interval)
	l := w.listener
	w.mu.Unlock()

	if l != nil {
		l.OnReportLocation(loc)
	}
}

// stepLocked advances the track by one interval: drift the heading a
// little, then move at walking speed.
func (w *Walk) stepLocked(interval time.Duration) {
	w.heading += (w.rng.Float64() - 0.5) * math.Pi / 4
	distanceM := walkSpeedMPS * interval.Seconds()

	w.lat += distanceM * math.Cos(w.heading) / metersPerDegree
	w.lng += distanceM * math.Sin(w.heading) / (metersPerDegree * math.Cos(w.lat*math.Pi/180))

	if w.lat > 89 {
		w.lat = 89
	}
	if w.lat < -89 {
		w.lat = -89
	}
	for w.lng > 180 {
		w.lng -= 360
	}
	for w.lng < -180 {
		w.lng += 360
	}
}
