package ocppserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ocpp-gateway/server/database"
)

// Transport is the write side of a charge point socket. *websocket.Conn
// satisfies it; tests substitute fakes.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ChargePointConnection binds a charge point identifier to its live
// transport. Writes are serialized per connection since both the read loop
// (responses) and the command manager (outbound CALLs) send on it.
type ChargePointConnection struct {
	ChargePointID string
	ConnectedAt   time.Time

	transport Transport
	writeMu   sync.Mutex
}

// Send writes one text frame on the connection.
func (c *ChargePointConnection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteMessage(websocket.TextMessage, data)
}

// ConnectionRegistry is the single source of truth for which charge point
// identifier maps to which live transport.
type ConnectionRegistry struct {
	mu          sync.Mutex
	byID        map[string]*ChargePointConnection
	byTransport map[Transport]string

	db  *database.Service
	log *logrus.Logger
}

// NewConnectionRegistry creates an empty registry backed by the station
// directory for admission control.
func NewConnectionRegistry(db *database.Service, log *logrus.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		byID:        make(map[string]*ChargePointConnection),
		byTransport: make(map[Transport]string),
		db:          db,
		log:         log,
	}
}

// Register admits a charge point connection. The identifier must already be
// provisioned in the station directory; otherwise the transport is closed
// with a policy-violation code and nothing is stored. A later registration
// for the same identifier replaces the prior mapping (last-wins).
func (r *ConnectionRegistry) Register(chargePointID string, transport Transport) (*ChargePointConnection, error) {
	cp, err := r.db.GetChargePoint(chargePointID)
	if err != nil || !cp.Registered {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation,
			"charge point is not registered")
		_ = transport.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = transport.Close()
		return nil, fmt.Errorf("charge point %s is not registered", chargePointID)
	}

	conn := &ChargePointConnection{
		ChargePointID: chargePointID,
		ConnectedAt:   time.Now(),
		transport:     transport,
	}

	r.mu.Lock()
	if prev, ok := r.byID[chargePointID]; ok {
		delete(r.byTransport, prev.transport)
	}
	r.byID[chargePointID] = conn
	r.byTransport[transport] = chargePointID
	r.mu.Unlock()

	if err := r.db.SetChargePointConnected(chargePointID, true); err != nil {
		r.log.WithField("chargePoint", chargePointID).Warnf("failed to mark charge point online: %v", err)
	}

	return conn, nil
}

// Disconnect removes the mapping for a transport and marks the station
// offline. Pending outbound commands are left to expire on their own
// deadlines, which keeps disconnect handling O(1).
func (r *ConnectionRegistry) Disconnect(transport Transport) {
	r.mu.Lock()
	chargePointID, ok := r.byTransport[transport]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byTransport, transport)

	// A replacement connection may already own the identifier.
	markOffline := false
	if current, exists := r.byID[chargePointID]; exists && current.transport == transport {
		delete(r.byID, chargePointID)
		markOffline = true
	}
	r.mu.Unlock()

	if markOffline {
		if err := r.db.SetChargePointConnected(chargePointID, false); err != nil {
			r.log.WithField("chargePoint", chargePointID).Warnf("failed to mark charge point offline: %v", err)
		}
	}
}

// IsConnected reports whether a live transport is registered for the id.
func (r *ConnectionRegistry) IsConnected(chargePointID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[chargePointID]
	return ok
}

// ConnectedIDs returns the identifiers of all connected charge points.
func (r *ConnectionRegistry) ConnectedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

// Send writes a frame to the named charge point.
func (r *ConnectionRegistry) Send(chargePointID string, data []byte) error {
	r.mu.Lock()
	conn, ok := r.byID[chargePointID]
	r.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return conn.Send(data)
}
