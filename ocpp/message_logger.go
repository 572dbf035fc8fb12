package ocppserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ocpp-gateway/server/database"
)

// Direction of a logged frame relative to the central system.
const (
	DirectionSend = "SEND"
	DirectionRecv = "RECV"
)

// MessageLogger records raw OCPP frames in the audit log. It is strictly
// best-effort: entries are queued and flushed in the background so a slow or
// failing database never delays protocol handling.
type MessageLogger struct {
	db            *database.Service
	queue         chan database.RawMessageLog
	flushInterval time.Duration
	batchSize     int
	done          chan struct{}
	stopped       chan struct{}
	closeOnce     sync.Once
	log           *logrus.Logger
}

// NewMessageLogger creates a message logger and starts its flush loop.
func NewMessageLogger(db *database.Service, log *logrus.Logger) *MessageLogger {
	l := &MessageLogger{
		db:            db,
		queue:         make(chan database.RawMessageLog, 256),
		flushInterval: 10 * time.Second,
		batchSize:     20,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		log:           log,
	}
	go l.flushLoop()
	return l
}

// LogRawMessage queues a frame for the audit log. When the queue is full the
// entry is dropped; audit logging must never block the protocol path.
func (l *MessageLogger) LogRawMessage(direction, chargePointID string, message []byte) {
	entry := database.RawMessageLog{
		ChargePointID: chargePointID,
		Timestamp:     time.Now(),
		Direction:     direction,
		Message:       string(message),
	}
	entry.MessageType, entry.Action, entry.MessageID = frameMetadata(message)

	select {
	case l.queue <- entry:
	default:
		l.log.Warn("raw message log queue full, dropping entry")
	}
}

// Close flushes whatever is queued and stops the flush loop. It blocks
// until the final flush has completed and is safe to call more than once.
func (l *MessageLogger) Close() {
	l.closeOnce.Do(func() { close(l.done) })
	<-l.stopped
}

func (l *MessageLogger) flushLoop() {
	defer close(l.stopped)

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	var pending []database.RawMessageLog
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := l.db.SaveRawMessageLogs(pending); err != nil {
			l.log.Warnf("failed to save %d raw message logs: %v", len(pending), err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case entry := <-l.queue:
			pending = append(pending, entry)
			if len(pending) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			// Drain what is left before stopping.
			for {
				select {
				case entry := <-l.queue:
					pending = append(pending, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// frameMetadata extracts message type, action and id from a frame for
// filterable audit rows. Unparseable frames still get logged verbatim.
func frameMetadata(message []byte) (messageType, action, messageID string) {
	var elements []json.RawMessage
	if err := json.Unmarshal(message, &elements); err != nil || len(elements) < 2 {
		return "", "", ""
	}

	var typeID int
	if err := json.Unmarshal(elements[0], &typeID); err == nil {
		switch typeID {
		case CallMessageType:
			messageType = "Request"
			if len(elements) >= 3 {
				_ = json.Unmarshal(elements[2], &action)
			}
		case CallResultMessageType:
			messageType = "Response"
		case CallErrorMessageType:
			messageType = "Error"
		}
	}
	_ = json.Unmarshal(elements[1], &messageID)
	return messageType, action, messageID
}
