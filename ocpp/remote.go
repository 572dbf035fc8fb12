package ocppserver

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Availability types for ChangeAvailability.
const (
	AvailabilityOperative   = "Operative"
	AvailabilityInoperative = "Inoperative"
)

// Reset types.
const (
	ResetHard = "Hard"
	ResetSoft = "Soft"
)

// RemoteStartRequest starts a transaction on a station, optionally bound to
// a connector.
type RemoteStartRequest struct {
	ChargePointID string `json:"chargePointId" validate:"required"`
	IdTag         string `json:"idTag" validate:"required,max=20"`
	ConnectorID   *int   `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
}

// RemoteStopRequest stops the transaction with the given id.
type RemoteStopRequest struct {
	ChargePointID string `json:"chargePointId" validate:"required"`
	TransactionID int    `json:"transactionId" validate:"required,gt=0"`
}

// ChangeAvailabilityRequest switches a connector (or, with connector id 0,
// the whole station) between Operative and Inoperative.
type ChangeAvailabilityRequest struct {
	ChargePointID string `json:"chargePointId" validate:"required"`
	ConnectorID   int    `json:"connectorId" validate:"gte=0"`
	Type          string `json:"type" validate:"required,oneof=Operative Inoperative"`
}

// ResetRequest reboots a station.
type ResetRequest struct {
	ChargePointID string `json:"chargePointId" validate:"required"`
	Type          string `json:"type" validate:"required,oneof=Hard Soft"`
}

// UnlockConnectorRequest releases a connector's cable lock.
type UnlockConnectorRequest struct {
	ChargePointID string `json:"chargePointId" validate:"required"`
	ConnectorID   int    `json:"connectorId" validate:"gt=0"`
}

// GetConfigurationRequest reads configuration keys; an empty key list asks
// for everything.
type GetConfigurationRequest struct {
	ChargePointID string   `json:"chargePointId" validate:"required"`
	Keys          []string `json:"key,omitempty"`
}

// ChangeConfigurationRequest sets one configuration key.
type ChangeConfigurationRequest struct {
	ChargePointID string `json:"chargePointId" validate:"required"`
	Key           string `json:"key" validate:"required,max=50"`
	Value         string `json:"value" validate:"required,max=500"`
}

// RemoteControl maps administrative intents onto outbound OCPP commands.
// Command failures (not connected, timeout, send errors) surface verbatim;
// audit logging of administrative actions is the caller's concern.
type RemoteControl struct {
	commands *CommandManager
	validate *validator.Validate
}

// NewRemoteControl creates the façade over a command manager.
func NewRemoteControl(commands *CommandManager) *RemoteControl {
	return &RemoteControl{
		commands: commands,
		validate: validator.New(),
	}
}

// RemoteStartTransaction asks the station to start charging.
func (rc *RemoteControl) RemoteStartTransaction(req *RemoteStartRequest) (json.RawMessage, error) {
	if err := rc.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid remote start request: %w", err)
	}

	payload := map[string]interface{}{"idTag": req.IdTag}
	if req.ConnectorID != nil {
		payload["connectorId"] = *req.ConnectorID
	}
	return rc.commands.SendCommand(req.ChargePointID, ActionRemoteStartTransaction, payload)
}

// RemoteStopTransaction asks the station to stop the given transaction.
func (rc *RemoteControl) RemoteStopTransaction(req *RemoteStopRequest) (json.RawMessage, error) {
	if err := rc.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid remote stop request: %w", err)
	}

	payload := map[string]interface{}{"transactionId": req.TransactionID}
	return rc.commands.SendCommand(req.ChargePointID, ActionRemoteStopTransaction, payload)
}

// ChangeAvailability switches a connector or station in or out of service.
func (rc *RemoteControl) ChangeAvailability(req *ChangeAvailabilityRequest) (json.RawMessage, error) {
	if err := rc.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid change availability request: %w", err)
	}

	payload := map[string]interface{}{
		"connectorId": req.ConnectorID,
		"type":        req.Type,
	}
	return rc.commands.SendCommand(req.ChargePointID, ActionChangeAvailability, payload)
}

// Reset reboots the station.
func (rc *RemoteControl) Reset(req *ResetRequest) (json.RawMessage, error) {
	if err := rc.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid reset request: %w", err)
	}

	payload := map[string]interface{}{"type": req.Type}
	return rc.commands.SendCommand(req.ChargePointID, ActionReset, payload)
}

// UnlockConnector releases the cable lock of a connector.
func (rc *RemoteControl) UnlockConnector(req *UnlockConnectorRequest) (json.RawMessage, error) {
	if err := rc.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid unlock connector request: %w", err)
	}

	payload := map[string]interface{}{"connectorId": req.ConnectorID}
	return rc.commands.SendCommand(req.ChargePointID, ActionUnlockConnector, payload)
}

// GetConfiguration reads station configuration keys.
func (rc *RemoteControl) GetConfiguration(req *GetConfigurationRequest) (json.RawMessage, error) {
	if err := rc.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid get configuration request: %w", err)
	}

	payload := map[string]interface{}{}
	if len(req.Keys) > 0 {
		payload["key"] = req.Keys
	}
	return rc.commands.SendCommand(req.ChargePointID, ActionGetConfiguration, payload)
}

// ChangeConfiguration sets one station configuration key.
func (rc *RemoteControl) ChangeConfiguration(req *ChangeConfigurationRequest) (json.RawMessage, error) {
	if err := rc.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid change configuration request: %w", err)
	}

	payload := map[string]interface{}{
		"key":   req.Key,
		"value": req.Value,
	}
	return rc.commands.SendCommand(req.ChargePointID, ActionChangeConfiguration, payload)
}
