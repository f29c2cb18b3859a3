// Package server exposes the locmux daemon over HTTP: a websocket
// subscription endpoint backed by the manager's registration surface, plus
// JSON endpoints for the last known location and diagnostics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/locmux/location"
	"github.com/grovetools/locmux/manager"
	"github.com/grovetools/locmux/support"
	"github.com/grovetools/locmux/version"
)

// remoteUIDBase is the first synthetic uid handed to a websocket
// subscriber. Each connection gets its own uid so permission grants and
// work-source blame stay per-connection.
const remoteUIDBase = 20000

const defaultSubscribeInterval = 5 * time.Second

// Server manages the daemon's HTTP server.
type Server struct {
	logger   *logrus.Entry
	mgr      *manager.Manager
	perms    *support.StaticPermissions
	server   *http.Server
	upgrader websocket.Upgrader

	startedAt time.Time
	nextUID   chan int
}

// New creates a Server for the given manager. perms is the permission
// store subscriber grants are written to; it must be the same store the
// manager consults.
func New(logger *logrus.Entry, mgr *manager.Manager, perms *support.StaticPermissions) *Server {
	uids := make(chan int, 1)
	uids <- remoteUIDBase
	return &Server{
		logger: logger,
		mgr:    mgr,
		perms:  perms,
		upgrader: websocket.Upgrader{
			// the daemon is a local tool; subscribers are not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startedAt: time.Now(),
		nextUID:   uids,
	}
}

// ListenAndServe starts the daemon on the given TCP address. It blocks
// until the server stops or fails.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/last", s.handleLastLocation)
	mux.HandleFunc("/api/dump", s.handleDump)
	mux.HandleFunc("/api/subscribe", s.handleSubscribe)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.WithField("addr", addr).Info("Daemon listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusResponse is the /api/status payload.
type statusResponse struct {
	Provider  string    `json:"provider"`
	Enabled   bool      `json:"enabled"`
	Merged    string    `json:"merged_request"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := statusResponse{
		Provider:  s.mgr.Name(),
		Enabled:   s.mgr.IsEnabled(userID),
		Merged:    s.mgr.MergedRequest().String(),
		StartedAt: s.startedAt,
		Version:   version.Version,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleLastLocation returns the cached last location for a user, fine
// unless coarse=1 is given. 404 when the cache is empty or access is
// denied.
func (s *Server) handleLastLocation(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	level := location.PermissionFine
	if r.URL.Query().Get("coarse") == "1" {
		level = location.PermissionCoarse
	}

	identity := location.CallerIdentity{
		UserID:  userID,
		Package: "locmuxd",
		System:  true,
	}
	loc := s.mgr.GetLastLocation(identity, level, false)
	if loc == nil {
		http.Error(w, "no location", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(manager.RemoteLocation{
		Provider:  loc.Provider,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Accuracy:  loc.Accuracy,
		Time:      loc.Time,
		Mock:      loc.FromMock,
	})
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.mgr.Dump())
}

// handleSubscribe upgrades to a websocket and registers the connection as
// a continuous client. The subscription ends when the peer closes the
// socket or a delivery fails.
//
// Query parameters: interval (Go duration, default 5s), quality
// (high|balanced|low), coarse=1 for a coarse-only subscription, user.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, level, err := subscribeRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	uid := <-s.nextUID
	s.nextUID <- uid + 1

	key := manager.ClientKey("ws-" + uuid.NewString())
	pkg := "remote:" + string(key)
	identity := location.CallerIdentity{
		UserID:  userID,
		UID:     uid,
		Package: pkg,
	}
	req.WorkSource = location.WorkSource{{UID: uid, Package: pkg}}

	s.perms.Grant(uid, pkg, location.PermissionFine)
	transport := manager.NewRemoteTransport(string(key), conn)

	if err := s.mgr.RegisterContinuous(key, req, identity, level, transport); err != nil {
		s.perms.Revoke(uid, pkg)
		s.logger.WithError(err).Warn("rejecting subscriber")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	s.logger.WithFields(logrus.Fields{
		"client":   key,
		"interval": req.Interval,
		"level":    level.String(),
	}).Info("Subscriber connected")

	// subscribers send nothing; the read loop only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mgr.Unregister(key)
	s.perms.Revoke(uid, pkg)
	conn.Close()
	s.logger.WithField("client", key).Info("Subscriber disconnected")
}

func userParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("user")
	if raw == "" {
		return 0, nil
	}
	userID, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid user %q", raw)
	}
	return userID, nil
}

func subscribeRequest(r *http.Request) (location.Request, location.PermissionLevel, error) {
	q := r.URL.Query()

	interval := defaultSubscribeInterval
	if raw := q.Get("interval"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			return location.Request{}, 0, fmt.Errorf("invalid interval %q", raw)
		}
		interval = parsed
	}

	quality := location.QualityBalanced
	switch q.Get("quality") {
	case "", "balanced":
	case "high":
		quality = location.QualityHighAccuracy
	case "low":
		quality = location.QualityLowPower
	default:
		return location.Request{}, 0, fmt.Errorf("invalid quality %q", q.Get("quality"))
	}

	level := location.PermissionFine
	if q.Get("coarse") == "1" {
		level = location.PermissionCoarse
	}

	return location.Request{
		Interval:          interval,
		Quality:           quality,
		DeliverHistorical: true,
	}, level, nil
}
