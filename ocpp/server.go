package ocppserver

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"ocpp-gateway/server/database"
)

// OCPPServer hosts the central system over a WebSocket endpoint and runs
// the background maintenance sweeps.
type OCPPServer struct {
	config *Config
	cs     *CentralSystem
	server *http.Server
	log    *logrus.Logger
	sweeps []chan struct{}
}

// NewOCPPServer creates an HTTP server serving the central system at every
// path beneath the root, so charge points can connect with their identity
// as the final path segment.
func NewOCPPServer(config *Config, cs *CentralSystem, log *logrus.Logger) *OCPPServer {
	mux := http.NewServeMux()
	mux.Handle("/", cs)

	return &OCPPServer{
		config: config,
		cs:     cs,
		server: &http.Server{
			Addr:    config.WebSocketAddr(),
			Handler: mux,
		},
		log: log,
	}
}

// CentralSystem returns the protocol engine behind the server.
func (s *OCPPServer) CentralSystem() *CentralSystem {
	return s.cs
}

// Start begins serving in a background goroutine.
func (s *OCPPServer) Start() error {
	go func() {
		s.log.Infof("OCPP central system listening on ws://%s", s.config.WebSocketAddr())
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Fatalf("server failed: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the sweeps, closes the listener and flushes the audit
// logger.
func (s *OCPPServer) Shutdown(ctx context.Context) error {
	for _, done := range s.sweeps {
		close(done)
	}
	s.sweeps = nil

	err := s.server.Shutdown(ctx)
	s.cs.Close()
	return err
}

// StartReservationExpirySweep periodically marks past-due reservations as
// expired so their connectors are not held forever.
func (s *OCPPServer) StartReservationExpirySweep(db *database.Service, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	s.sweeps = append(s.sweeps, done)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				expired, err := db.ExpireReservations(time.Now())
				if err != nil {
					s.log.Errorf("reservation expiry sweep failed: %v", err)
					continue
				}
				if expired > 0 {
					s.log.Infof("expired %d overdue reservations", expired)
				}
			}
		}
	}()
}

// StartOfflineDetection periodically reconciles the database connection
// flags against the live registry and reports stations whose heartbeat has
// gone stale. A station is considered stale after missing three heartbeat
// intervals.
func (s *OCPPServer) StartOfflineDetection(db *database.Service, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	staleAfter := time.Duration(s.config.HeartbeatInterval) * time.Second * 3
	done := make(chan struct{})
	s.sweeps = append(s.sweeps, done)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				chargePoints, err := db.ListChargePoints()
				if err != nil {
					s.log.Errorf("offline detection failed to list charge points: %v", err)
					continue
				}

				now := time.Now()
				for i := range chargePoints {
					cp := &chargePoints[i]
					connected := s.cs.Registry().IsConnected(cp.ID)

					if cp.IsConnected && !connected {
						// Crashed without a clean disconnect.
						if err := db.SetChargePointConnected(cp.ID, false); err != nil {
							s.log.Errorf("failed to mark %s offline: %v", cp.ID, err)
						} else {
							s.log.Warnf("charge point %s marked offline by sweep", cp.ID)
						}
						continue
					}

					if connected && !cp.LastHeartbeat.IsZero() && now.Sub(cp.LastHeartbeat) > staleAfter {
						s.log.WithFields(logrus.Fields{
							"chargePoint":   cp.ID,
							"lastHeartbeat": cp.LastHeartbeat,
						}).Warn("charge point heartbeat is stale")
					}
				}
			}
		}
	}()
}

// RunForever blocks until the process is terminated.
func (s *OCPPServer) RunForever() {
	select {}
}
