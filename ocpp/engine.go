package ocppserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"ocpp-gateway/notifier"
	"ocpp-gateway/server/database"
)

// HandlerFunc processes one inbound CALL. The returned payload is sent back
// as a CALL_RESULT; a returned error becomes a CALL_ERROR without closing
// the connection.
type HandlerFunc func(chargePointID string, payload json.RawMessage) (interface{}, error)

// CentralSystem is the OCPP 1.6-J protocol engine: it admits charge point
// connections, frames and dispatches messages, and correlates outbound
// commands with their responses.
type CentralSystem struct {
	config    *Config
	upgrader  websocket.Upgrader
	registry  *ConnectionRegistry
	commands  *CommandManager
	actions   map[string]HandlerFunc
	vendors   *VendorRouter
	db        *database.Service
	msgLogger *MessageLogger
	tagCache  *cache.Cache

	notification chan notifier.Notification

	log *logrus.Logger
}

// NewCentralSystem wires up the engine with all core action handlers
// registered. Additional actions may be registered before the server starts.
func NewCentralSystem(config *Config, db *database.Service, log *logrus.Logger) *CentralSystem {
	msgLogger := NewMessageLogger(db, log)
	registry := NewConnectionRegistry(db, log)

	cs := &CentralSystem{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow connections from all origins
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{"ocpp1.6"},
		},
		registry:     registry,
		commands:     NewCommandManager(registry, config.CommandTimeout, msgLogger, log),
		actions:      make(map[string]HandlerFunc),
		vendors:      NewVendorRouter(),
		db:           db,
		msgLogger:    msgLogger,
		tagCache:     cache.New(30*time.Second, time.Minute),
		notification: make(chan notifier.Notification, 64),
		log:          log,
	}
	cs.registerCoreActions()
	return cs
}

// Registry returns the connection registry.
func (cs *CentralSystem) Registry() *ConnectionRegistry {
	return cs.registry
}

// Commands returns the command manager.
func (cs *CentralSystem) Commands() *CommandManager {
	return cs.commands
}

// Vendors returns the DataTransfer vendor router.
func (cs *CentralSystem) Vendors() *VendorRouter {
	return cs.vendors
}

// NotificationChannel exposes the protocol event stream for a notifier.
func (cs *CentralSystem) NotificationChannel() chan notifier.Notification {
	return cs.notification
}

// RegisterAction installs a handler for an inbound action, replacing any
// existing registration. Not safe to call once connections are being served.
func (cs *CentralSystem) RegisterAction(action string, handler HandlerFunc) {
	cs.actions[action] = handler
}

// Close flushes the audit logger.
func (cs *CentralSystem) Close() {
	cs.msgLogger.Close()
}

// ServeHTTP upgrades an incoming connection and admits the charge point.
// The charge point identifier is the final path segment of the URL.
func (cs *CentralSystem) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := cs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cs.log.Warnf("failed to upgrade connection: %v", err)
		return
	}

	chargePointID := extractChargePointIDFromURL(r.URL.Path)
	if chargePointID == "" {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "missing charge point id")
		_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = conn.Close()
		return
	}

	cpConn, err := cs.registry.Register(chargePointID, conn)
	if err != nil {
		cs.log.WithField("chargePoint", chargePointID).Warnf("rejected connection: %v", err)
		return
	}

	cs.logEvent(chargePointID, "INFO", "System",
		fmt.Sprintf("New connection established (subprotocol %q)", conn.Subprotocol()))
	cs.log.WithField("chargePoint", chargePointID).Info("charge point connected")

	go cs.readLoop(cpConn, conn)
}

// extractChargePointIDFromURL returns the final path segment of the
// connection URL.
func extractChargePointIDFromURL(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

// readLoop consumes frames from one connection until it fails. Inbound
// handling is sequential per connection, preserving arrival order.
func (cs *CentralSystem) readLoop(cpConn *ChargePointConnection, conn *websocket.Conn) {
	chargePointID := cpConn.ChargePointID

	defer func() {
		conn.Close()
		cs.registry.Disconnect(conn)
		cs.logEvent(chargePointID, "INFO", "System", "Connection closed")
		cs.log.WithField("chargePoint", chargePointID).Info("charge point disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			cs.log.WithField("chargePoint", chargePointID).Debugf("read failed: %v", err)
			return
		}

		cs.msgLogger.LogRawMessage(DirectionRecv, chargePointID, data)

		msg, err := DecodeMessage(data)
		if err != nil {
			// No usable request id, so no CALL_ERROR is possible.
			cs.log.WithField("chargePoint", chargePointID).
				Warnf("dropping malformed frame: %v", err)
			continue
		}

		switch m := msg.(type) {
		case *Call:
			cs.dispatchCall(cpConn, m)
		case *CallResult:
			cs.commands.HandleCallResult(m.UniqueID, m.Payload)
		case *CallError:
			cs.commands.HandleCallError(m.UniqueID, m.ErrorCode, m.ErrorDescription)
		}
	}
}

// dispatchCall routes an inbound CALL to its action handler and sends the
// reply. Handler failures become CALL_ERRORs; the connection stays open.
func (cs *CentralSystem) dispatchCall(cpConn *ChargePointConnection, call *Call) {
	chargePointID := cpConn.ChargePointID
	entry := cs.log.WithFields(logrus.Fields{"chargePoint": chargePointID, "action": call.Action})

	var reply []byte
	var encodeErr error

	handler, known := cs.actions[call.Action]
	if !known {
		entry.Warn("unsupported action")
		reply, encodeErr = EncodeCallError(call.UniqueID, ErrorCodeNotImplemented,
			fmt.Sprintf("action %s is not implemented", call.Action))
	} else {
		payload, err := handler(chargePointID, call.Payload)
		if err != nil {
			entry.Errorf("handler failed: %v", err)
			reply, encodeErr = EncodeCallError(call.UniqueID, ErrorCodeInternalError, err.Error())
		} else {
			reply, encodeErr = EncodeCallResult(call.UniqueID, payload)
		}
	}

	if encodeErr != nil {
		entry.Errorf("failed to encode reply: %v", encodeErr)
		return
	}

	cs.msgLogger.LogRawMessage(DirectionSend, chargePointID, reply)

	if err := cpConn.Send(reply); err != nil {
		entry.Errorf("failed to send reply: %v", err)
	}
}

// logEvent writes an operational log row, best-effort.
func (cs *CentralSystem) logEvent(chargePointID, level, source, message string) {
	entry := &database.EventLog{
		ChargePointID: chargePointID,
		Timestamp:     time.Now(),
		Level:         level,
		Source:        source,
		Message:       message,
	}
	if err := cs.db.AddEventLog(entry); err != nil {
		cs.log.Warnf("failed to save event log: %v", err)
	}
}

// publish emits a protocol event without ever blocking the protocol path;
// when no notifier is draining the channel, events are dropped.
func (cs *CentralSystem) publish(topic, chargePointID string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["chargePointId"] = chargePointID

	select {
	case cs.notification <- notifier.Notification{Topic: topic, Data: data}:
	default:
	}
}
