package support

import (
	"sync"

	"github.com/grovetools/locmux/location"
)

// Attribution receives power-blame signals: which identities are actively
// receiving location, and which are driving high-power hardware.
type Attribution interface {
	ReportLocationStart(identity location.CallerIdentity)
	ReportLocationStop(identity location.CallerIdentity)
	ReportHighPowerLocationStart(identity location.CallerIdentity)
	ReportHighPowerLocationStop(identity location.CallerIdentity)
}

// NopAttribution discards all reports.
type NopAttribution struct{}

func (NopAttribution) ReportLocationStart(location.CallerIdentity)          {}
func (NopAttribution) ReportLocationStop(location.CallerIdentity)           {}
func (NopAttribution) ReportHighPowerLocationStart(location.CallerIdentity) {}
func (NopAttribution) ReportHighPowerLocationStop(location.CallerIdentity)  {}

// AttributionEvent is one recorded attribution report.
type AttributionEvent struct {
	Identity  location.CallerIdentity
	HighPower bool
	Start     bool
}

// AttributionRecorder captures attribution reports for tests.
type AttributionRecorder struct {
	mu     sync.Mutex
	events []AttributionEvent
}

func (r *AttributionRecorder) ReportLocationStart(id location.CallerIdentity) {
	r.record(AttributionEvent{Identity: id, Start: true})
}

func (r *AttributionRecorder) ReportLocationStop(id location.CallerIdentity) {
	r.record(AttributionEvent{Identity: id})
}

func (r *AttributionRecorder) ReportHighPowerLocationStart(id location.CallerIdentity) {
	r.record(AttributionEvent{Identity: id, HighPower: true, Start: true})
}

func (r *AttributionRecorder) ReportHighPowerLocationStop(id location.CallerIdentity) {
	r.record(AttributionEvent{Identity: id, HighPower: true})
}

func (r *AttributionRecorder) record(ev AttributionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of all recorded reports.
func (r *AttributionRecorder) Events() []AttributionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AttributionEvent(nil), r.events...)
}
