package ocppserver

import (
	"encoding/json"
	"fmt"
)

// OCPP-J message type identifiers as they appear on the wire.
const (
	CallMessageType       = 2
	CallResultMessageType = 3
	CallErrorMessageType  = 4
)

// OCPP-J error codes used in CALL_ERROR frames.
const (
	ErrorCodeNotImplemented       = "NotImplemented"
	ErrorCodeNotSupported         = "NotSupported"
	ErrorCodeInternalError        = "InternalError"
	ErrorCodeProtocolError        = "ProtocolError"
	ErrorCodeSecurityError        = "SecurityError"
	ErrorCodeFormationViolation   = "FormationViolation"
	ErrorCodePropertyConstraint   = "PropertyConstraintViolation"
	ErrorCodeOccurrenceConstraint = "OccurrenceConstraintViolation"
	ErrorCodeTypeConstraint       = "TypeConstraintViolation"
	ErrorCodeGenericError         = "GenericError"
)

// Call is a request frame: [2, uniqueId, action, payload].
type Call struct {
	UniqueID string
	Action   string
	Payload  json.RawMessage
}

// CallResult is a success response frame: [3, uniqueId, payload].
type CallResult struct {
	UniqueID string
	Payload  json.RawMessage
}

// CallError is an error response frame:
// [4, uniqueId, errorCode, errorDescription, errorDetails].
type CallError struct {
	UniqueID         string
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// DecodeMessage parses a raw frame into one of *Call, *CallResult or
// *CallError. A frame that does not match the tagged-array shape is
// rejected; the caller has no request id to answer with, so these are
// dropped with a warning upstream.
func DecodeMessage(data []byte) (interface{}, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("frame is not a JSON array: %w", err)
	}
	if len(elements) < 3 {
		return nil, fmt.Errorf("frame has %d elements, need at least 3", len(elements))
	}

	var messageTypeID int
	if err := json.Unmarshal(elements[0], &messageTypeID); err != nil {
		return nil, fmt.Errorf("invalid message type id: %w", err)
	}

	var uniqueID string
	if err := json.Unmarshal(elements[1], &uniqueID); err != nil {
		return nil, fmt.Errorf("invalid unique id: %w", err)
	}

	switch messageTypeID {
	case CallMessageType:
		if len(elements) < 4 {
			return nil, fmt.Errorf("CALL frame has no payload element")
		}
		var action string
		if err := json.Unmarshal(elements[2], &action); err != nil {
			return nil, fmt.Errorf("invalid action: %w", err)
		}
		return &Call{UniqueID: uniqueID, Action: action, Payload: elements[3]}, nil

	case CallResultMessageType:
		return &CallResult{UniqueID: uniqueID, Payload: elements[2]}, nil

	case CallErrorMessageType:
		if len(elements) < 5 {
			return nil, fmt.Errorf("CALL_ERROR frame has %d elements, need 5", len(elements))
		}
		var errorCode, errorDescription string
		if err := json.Unmarshal(elements[2], &errorCode); err != nil {
			return nil, fmt.Errorf("invalid error code: %w", err)
		}
		if err := json.Unmarshal(elements[3], &errorDescription); err != nil {
			return nil, fmt.Errorf("invalid error description: %w", err)
		}
		return &CallError{
			UniqueID:         uniqueID,
			ErrorCode:        errorCode,
			ErrorDescription: errorDescription,
			ErrorDetails:     elements[4],
		}, nil

	default:
		return nil, fmt.Errorf("unknown message type id %d", messageTypeID)
	}
}

// EncodeCall builds a [2, uniqueId, action, payload] frame.
func EncodeCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{CallMessageType, uniqueID, action, payload})
}

// EncodeCallResult builds a [3, uniqueId, payload] frame.
func EncodeCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{CallResultMessageType, uniqueID, payload})
}

// EncodeCallError builds a [4, uniqueId, errorCode, errorDescription, details]
// frame. Details default to an empty object per the OCPP-J spec.
func EncodeCallError(uniqueID, errorCode, errorDescription string) ([]byte, error) {
	return json.Marshal([]interface{}{
		CallErrorMessageType, uniqueID, errorCode, errorDescription, map[string]interface{}{},
	})
}
