package ocppserver

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender captures outbound frames and can answer them synchronously
// through the respond hook. Pending commands are registered before Send is
// called, so answering from inside Send is safe.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	frames    [][]byte
	respond   func(call *Call)
}

func (f *fakeSender) IsConnected(chargePointID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) Send(chargePointID string, data []byte) error {
	f.mu.Lock()
	f.frames = append(f.frames, data)
	respond := f.respond
	err := f.sendErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if respond != nil {
		msg, decodeErr := DecodeMessage(data)
		if decodeErr == nil {
			if call, ok := msg.(*Call); ok {
				respond(call)
			}
		}
	}
	return nil
}

func (f *fakeSender) lastFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestSendCommandNotConnected(t *testing.T) {
	sender := &fakeSender{connected: false}
	cm := NewCommandManager(sender, time.Second, nil, testLogger())

	_, err := cm.SendCommand("CP-1", ActionReset, map[string]interface{}{"type": ResetSoft})
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, cm.PendingCount(), "nothing should be registered for an offline target")
	assert.Empty(t, sender.frames)
}

func TestSendCommandSuccess(t *testing.T) {
	sender := &fakeSender{connected: true}
	cm := NewCommandManager(sender, time.Second, nil, testLogger())
	sender.respond = func(call *Call) {
		cm.HandleCallResult(call.UniqueID, json.RawMessage(`{"status":"Accepted"}`))
	}

	payload, err := cm.SendCommand("CP-1", ActionRemoteStopTransaction, map[string]interface{}{"transactionId": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(payload))
	assert.Equal(t, 0, cm.PendingCount())

	msg, err := DecodeMessage(sender.lastFrame())
	require.NoError(t, err)
	call := msg.(*Call)
	assert.Equal(t, ActionRemoteStopTransaction, call.Action)
	assert.NotEmpty(t, call.UniqueID)
}

func TestSendCommandCallError(t *testing.T) {
	sender := &fakeSender{connected: true}
	cm := NewCommandManager(sender, time.Second, nil, testLogger())
	sender.respond = func(call *Call) {
		cm.HandleCallError(call.UniqueID, ErrorCodeNotSupported, "nope")
	}

	_, err := cm.SendCommand("CP-1", ActionUnlockConnector, map[string]interface{}{"connectorId": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrorCodeNotSupported)
	assert.Equal(t, 0, cm.PendingCount())
}

func TestSendCommandTimeout(t *testing.T) {
	sender := &fakeSender{connected: true}
	cm := NewCommandManager(sender, 30*time.Millisecond, nil, testLogger())

	_, err := cm.SendCommand("CP-1", ActionGetConfiguration, nil)
	require.ErrorIs(t, err, ErrCommandTimeout)
	assert.Equal(t, 0, cm.PendingCount(), "expiry must clear the correlation entry")

	// A late response for the expired id is dropped, not redelivered.
	msg, decodeErr := DecodeMessage(sender.lastFrame())
	require.NoError(t, decodeErr)
	cm.HandleCallResult(msg.(*Call).UniqueID, json.RawMessage(`{}`))
	assert.Equal(t, 0, cm.PendingCount())
}

func TestSendCommandSendFailure(t *testing.T) {
	sender := &fakeSender{connected: true, sendErr: io.ErrClosedPipe}
	cm := NewCommandManager(sender, time.Second, nil, testLogger())

	_, err := cm.SendCommand("CP-1", ActionChangeConfiguration, map[string]interface{}{"key": "k", "value": "v"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, 0, cm.PendingCount(), "send failure must roll back the registration")
}

func TestHandleCallResultUnknownIDIsDropped(t *testing.T) {
	cm := NewCommandManager(&fakeSender{connected: true}, time.Second, nil, testLogger())

	// Must not panic or register anything.
	cm.HandleCallResult("no-such-id", json.RawMessage(`{}`))
	cm.HandleCallError("no-such-id", ErrorCodeGenericError, "late")
	assert.Equal(t, 0, cm.PendingCount())
}

func TestSendCommandConcurrentCorrelation(t *testing.T) {
	sender := &fakeSender{connected: true}
	cm := NewCommandManager(sender, time.Second, nil, testLogger())
	sender.respond = func(call *Call) {
		reply, _ := json.Marshal(map[string]string{"echo": call.Action})
		cm.HandleCallResult(call.UniqueID, reply)
	}

	actions := []string{ActionReset, ActionUnlockConnector, ActionGetConfiguration, ActionChangeAvailability}
	var wg sync.WaitGroup
	for _, action := range actions {
		wg.Add(1)
		go func(action string) {
			defer wg.Done()
			payload, err := cm.SendCommand("CP-1", action, nil)
			assert.NoError(t, err)

			var resp map[string]string
			assert.NoError(t, json.Unmarshal(payload, &resp))
			assert.Equal(t, action, resp["echo"], "response must reach the command that asked")
		}(action)
	}
	wg.Wait()
	assert.Equal(t, 0, cm.PendingCount())
}
