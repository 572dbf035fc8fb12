package ocppserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned when a command targets a charge point without
// a live connection. Nothing is registered in that case.
var ErrNotConnected = errors.New("charge point is not connected")

// ErrCommandTimeout is returned when a charge point does not answer an
// outbound command before its deadline.
var ErrCommandTimeout = errors.New("command timed out")

// CommandSender abstracts the transport used for outbound commands. The
// connection registry implements it.
type CommandSender interface {
	IsConnected(chargePointID string) bool
	Send(chargePointID string, data []byte) error
}

type commandOutcome struct {
	payload json.RawMessage
	err     error
}

// CommandManager correlates outbound CALLs with their CALL_RESULT or
// CALL_ERROR. Every pending command has exactly one terminal transition:
// response received, error received, send failure, or deadline expiry.
type CommandManager struct {
	sender          CommandSender
	pendingRequests map[string]chan commandOutcome
	requestTimeouts map[string]*time.Timer
	mutex           sync.Mutex
	timeout         time.Duration
	msgLogger       *MessageLogger
	log             *logrus.Logger
}

// NewCommandManager creates a command manager with the given response
// deadline. The message logger may be nil.
func NewCommandManager(sender CommandSender, timeout time.Duration, msgLogger *MessageLogger, log *logrus.Logger) *CommandManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandManager{
		sender:          sender,
		pendingRequests: make(map[string]chan commandOutcome),
		requestTimeouts: make(map[string]*time.Timer),
		timeout:         timeout,
		msgLogger:       msgLogger,
		log:             log,
	}
}

// SendCommand sends an OCPP command to a charge point and waits for the
// response, a returned error, or the deadline.
func (cm *CommandManager) SendCommand(chargePointID string, action string, payload interface{}) (json.RawMessage, error) {
	if !cm.sender.IsConnected(chargePointID) {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, chargePointID)
	}

	// Correlation ids must stay unique across process restarts, so a
	// counter will not do.
	messageID := uuid.New().String()

	frame, err := EncodeCall(messageID, action, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s command: %w", action, err)
	}

	responseChan := make(chan commandOutcome, 1)

	cm.mutex.Lock()
	cm.pendingRequests[messageID] = responseChan

	timer := time.AfterFunc(cm.timeout, func() {
		cm.mutex.Lock()
		defer cm.mutex.Unlock()

		// Closing without a value signals expiry to the waiting caller.
		if ch, exists := cm.pendingRequests[messageID]; exists {
			close(ch)
			delete(cm.pendingRequests, messageID)
			delete(cm.requestTimeouts, messageID)
		}
	})
	cm.requestTimeouts[messageID] = timer
	cm.mutex.Unlock()

	if cm.msgLogger != nil {
		cm.msgLogger.LogRawMessage(DirectionSend, chargePointID, frame)
	}

	if err := cm.sender.Send(chargePointID, frame); err != nil {
		cm.cancelPending(messageID)
		return nil, fmt.Errorf("failed to send %s to %s: %w", action, chargePointID, err)
	}

	cm.log.WithFields(logrus.Fields{"chargePoint": chargePointID, "action": action}).
		Debugf("sent command with message id %s", messageID)

	outcome, ok := <-responseChan
	if !ok {
		return nil, fmt.Errorf("%w after %v: %s to %s", ErrCommandTimeout, cm.timeout, action, chargePointID)
	}
	return outcome.payload, outcome.err
}

// HandleCallResult routes an inbound CALL_RESULT to its pending command.
// A result for an unknown or already timed-out id is logged and dropped.
func (cm *CommandManager) HandleCallResult(uniqueID string, payload json.RawMessage) {
	cm.complete(uniqueID, commandOutcome{payload: payload})
}

// HandleCallError routes an inbound CALL_ERROR to its pending command as a
// constructed error.
func (cm *CommandManager) HandleCallError(uniqueID, errorCode, errorDescription string) {
	cm.complete(uniqueID, commandOutcome{
		err: fmt.Errorf("charge point returned %s: %s", errorCode, errorDescription),
	})
}

// PendingCount reports how many commands are awaiting a response.
func (cm *CommandManager) PendingCount() int {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	return len(cm.pendingRequests)
}

func (cm *CommandManager) complete(uniqueID string, outcome commandOutcome) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	responseChan, exists := cm.pendingRequests[uniqueID]
	if !exists {
		cm.log.Warnf("dropping response for unknown or expired message id %s", uniqueID)
		return
	}

	responseChan <- outcome
	close(responseChan)

	delete(cm.pendingRequests, uniqueID)
	if timer, ok := cm.requestTimeouts[uniqueID]; ok {
		timer.Stop()
		delete(cm.requestTimeouts, uniqueID)
	}
}

func (cm *CommandManager) cancelPending(uniqueID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	delete(cm.pendingRequests, uniqueID)
	if timer, ok := cm.requestTimeouts[uniqueID]; ok {
		timer.Stop()
		delete(cm.requestTimeouts, uniqueID)
	}
}
