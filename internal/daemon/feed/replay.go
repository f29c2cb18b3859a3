package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hpcloud/tail"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/locmux/clock"
	"github.com/grovetools/locmux/location"
	"github.com/grovetools/locmux/logging"
	"github.com/grovetools/locmux/manager"
)

// ReplayName is the provider name stamped on replayed fixes.
const ReplayName = "replay"

// fixLine is one line of a replay file.
type fixLine struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	// Time is optional; absent fixes are stamped with the current time.
	Time time.Time `json:"time"`
}

// Replay follows a JSON-lines file of fixes and reports each appended line
// to the manager. Lines arriving while nobody has an active request are
// dropped, matching how a real driver would be powered down.
type Replay struct {
	base

	path   string
	clk    clock.Clock
	logger *logrus.Entry

	stopOnce chan struct{}
}

// NewReplay builds a replay driver for the given fix file. The file does
// not need to exist yet; it is followed and re-opened like a log.
func NewReplay(path string, clk clock.Clock) *Replay {
	return &Replay{
		base:     newBase(manager.ProviderProperties{PowerUsage: manager.PowerUsageLow, AccuracyM: 5}),
		path:     path,
		clk:      clk,
		logger:   logging.NewLogger("feed").WithField("driver", ReplayName),
		stopOnce: make(chan struct{}),
	}
}

// Run tails the file until Stop. Blocks; run on its own goroutine.
func (r *Replay) Run() error {
	t, err := tail.TailFile(r.path, tail.Config{
		Follow: true,
		ReOpen: true,
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("tail %s: %w", r.path, err)
	}
	defer t.Stop()

	r.logger.WithField("path", r.path).Info("replaying fixes")
	for {
		select {
		case <-r.stopOnce:
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				r.logger.WithError(line.Err).Warn("replay read error")
				continue
			}
			if line.Text == "" {
				continue
			}
			loc, err := r.parse(line.Text)
			if err != nil {
				r.logger.WithError(err).Warn("skipping malformed replay line")
				continue
			}
			if !r.wants() {
				continue
			}
			r.report(loc)
		}
	}
}

// Stop terminates Run. Safe to call once.
func (r *Replay) Stop() {
	close(r.stopOnce)
}

func (r *Replay) parse(text string) (*location.Location, error) {
	var line fixLine
	if err := json.Unmarshal([]byte(text), &line); err != nil {
		return nil, err
	}
	if line.Accuracy <= 0 {
		return nil, fmt.Errorf("fix needs a positive accuracy, got %v", line.Accuracy)
	}

	when := line.Time
	if when.IsZero() {
		when = r.clk.Now()
	}
	return &location.Location{
		Provider:        ReplayName,
		Latitude:        line.Latitude,
		Longitude:       line.Longitude,
		Accuracy:        line.Accuracy,
		HasAccuracy:     true,
		Time:            when,
		ElapsedRealtime: r.clk.ElapsedRealtime(),
	}, nil
}
