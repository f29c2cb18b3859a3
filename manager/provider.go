package manager

import (
	"sync"

	"github.com/grovetools/locmux/clock"
	"github.com/grovetools/locmux/location"
)

// PowerUsage is a provider's hardware power requirement.
type PowerUsage int

const (
	PowerUsageLow PowerUsage = iota + 1
	PowerUsageMedium
	PowerUsageHigh
)

// ProviderProperties describes the underlying driver hardware.
type ProviderProperties struct {
	PowerUsage PowerUsage
	AccuracyM  float64
}

// ProviderState is the externally observable state of a provider driver.
type ProviderState struct {
	// Allowed reports whether the driver is able to produce locations at
	// all (hardware present, airplane mode off, and so on).
	Allowed    bool
	Identity   *location.CallerIdentity
	Properties ProviderProperties
}

// ProviderListener receives driver callbacks. The manager installs
// itself as the listener of its provider.
type ProviderListener interface {
	OnStateChanged()
	OnReportLocation(loc *location.Location)
	OnReportLocations(batch []*location.Location)
}

// Provider is the driver adapter underneath a manager. SetRequest may be
// invoked while the manager lock is held; implementations must not call
// back into the listener synchronously from it.
type Provider interface {
	State() ProviderState
	SetRequest(req location.ProviderRequest)
	SendExtraCommand(command string, extras map[string]string) error
	SetListener(l ProviderListener)
}

// MockProvider is a fully scriptable Provider used by tests and by the
// mock overlay.
type MockProvider struct {
	clk clock.Clock

	mu       sync.Mutex
	state    ProviderState
	listener ProviderListener
	requests []location.ProviderRequest
	commands []string
}

// NewMockProvider returns an allowed mock provider.
func NewMockProvider(clk clock.Clock) *MockProvider {
	return &MockProvider{
		clk: clk,
		state: ProviderState{
			Allowed:    true,
			Properties: ProviderProperties{PowerUsage: PowerUsageHigh},
		},
	}
}

func (p *MockProvider) State() ProviderState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *MockProvider) SetRequest(req location.ProviderRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
}

func (p *MockProvider) SendExtraCommand(command string, extras map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, command)
	return nil
}

func (p *MockProvider) SetListener(l ProviderListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

// SetAllowed flips the driver's allowed state and notifies the listener.
func (p *MockProvider) SetAllowed(allowed bool) {
	p.mu.Lock()
	if p.state.Allowed == allowed {
		p.mu.Unlock()
		return
	}
	p.state.Allowed = allowed
	l := p.listener
	p.mu.Unlock()

	if l != nil {
		l.OnStateChanged()
	}
}

// SetProperties updates the driver properties and notifies the listener.
func (p *MockProvider) SetProperties(props ProviderProperties) {
	p.mu.Lock()
	p.state.Properties = props
	l := p.listener
	p.mu.Unlock()

	if l != nil {
		l.OnStateChanged()
	}
}

// SetIdentity sets the identity the driver runs as.
func (p *MockProvider) SetIdentity(identity *location.CallerIdentity) {
	p.mu.Lock()
	p.state.Identity = identity
	l := p.listener
	p.mu.Unlock()

	if l != nil {
		l.OnStateChanged()
	}
}

// ReportLocation injects a fix as if the driver produced it. Mock fixes
// are marked and missing timestamps are filled from the clock.
func (p *MockProvider) ReportLocation(loc *location.Location) {
	fix := loc.Clone()
	fix.FromMock = true
	if fix.Time.IsZero() {
		fix.Time = p.clk.Now()
	}
	if fix.ElapsedRealtime == 0 {
		fix.ElapsedRealtime = p.clk.ElapsedRealtime()
	}

	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()

	if l != nil {
		l.OnReportLocation(fix)
	}
}

// LastRequest returns the most recent merged request pushed down, or the
// disabled sentinel if none was.
func (p *MockProvider) LastRequest() location.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return location.EmptyProviderRequest()
	}
	return p.requests[len(p.requests)-1]
}

// Requests returns every merged request pushed down so far.
func (p *MockProvider) Requests() []location.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]location.ProviderRequest(nil), p.requests...)
}

// Commands returns every extra command received so far.
func (p *MockProvider) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}
