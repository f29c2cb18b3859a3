package manager

import "github.com/grovetools/locmux/location"

// Transport is the delivery sink of one registration. DeliverLocation
// receives nil when a one-shot registration gives up. done releases the
// delivery wakelock and must be invoked when the client is finished with
// the location; invoking it more than once is harmless.
//
// A returned error means the client is gone and removes the registration.
// A panic is treated as a programmer bug and is not recovered.
type Transport interface {
	DeliverLocation(loc *location.Location, done func()) error
	DeliverProviderEnabled(provider string, enabled bool) error
}

// CallbackTransport adapts plain functions to the Transport interface for
// same-process clients. Nil funcs are skipped.
type CallbackTransport struct {
	OnLocation        func(loc *location.Location)
	OnProviderEnabled func(provider string, enabled bool)
}

func (t *CallbackTransport) DeliverLocation(loc *location.Location, done func()) error {
	defer done()
	if t.OnLocation != nil {
		t.OnLocation(loc)
	}
	return nil
}

func (t *CallbackTransport) DeliverProviderEnabled(provider string, enabled bool) error {
	if t.OnProviderEnabled != nil {
		t.OnProviderEnabled(provider, enabled)
	}
	return nil
}
