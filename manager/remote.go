package manager

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grovetools/locmux/errors"
	"github.com/grovetools/locmux/location"
)

// remoteWriteTimeout bounds a single websocket write.
const remoteWriteTimeout = 10 * time.Second

// RemoteEnvelope is the wire format of one delivery to a remote
// subscriber.
type RemoteEnvelope struct {
	Type     string          `json:"type"` // "location", "null" or "enabled"
	Location *RemoteLocation `json:"location,omitempty"`
	Provider string          `json:"provider,omitempty"`
	Enabled  bool            `json:"enabled,omitempty"`
}

// RemoteLocation is the wire form of a location fix.
type RemoteLocation struct {
	Provider  string    `json:"provider"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Time      time.Time `json:"time"`
	Mock      bool      `json:"mock,omitempty"`
}

// RemoteTransport delivers over a websocket connection. A failed write
// means the subscriber is gone and removes its registration.
type RemoteTransport struct {
	client string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRemoteTransport wraps an established websocket connection. client
// names the subscriber in errors and logs.
func NewRemoteTransport(client string, conn *websocket.Conn) *RemoteTransport {
	return &RemoteTransport{client: client, conn: conn}
}

func (t *RemoteTransport) DeliverLocation(loc *location.Location, done func()) error {
	defer done()

	env := RemoteEnvelope{Type: "null"}
	if loc != nil {
		env.Type = "location"
		env.Location = &RemoteLocation{
			Provider:  loc.Provider,
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Time:      loc.Time,
			Mock:      loc.FromMock,
		}
		if loc.HasAccuracy {
			env.Location.Accuracy = loc.Accuracy
		}
	}
	return t.write(env)
}

func (t *RemoteTransport) DeliverProviderEnabled(provider string, enabled bool) error {
	return t.write(RemoteEnvelope{Type: "enabled", Provider: provider, Enabled: enabled})
}

func (t *RemoteTransport) write(env RemoteEnvelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(remoteWriteTimeout))
	if err := t.conn.WriteJSON(env); err != nil {
		return errors.ClientGone(t.client, err)
	}
	return nil
}

// Close closes the underlying connection.
func (t *RemoteTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}
