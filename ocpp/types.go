package ocppserver

import (
	"time"
)

// Inbound action names.
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionStatusNotification = "StatusNotification"
	ActionAuthorize          = "Authorize"
	ActionStartTransaction   = "StartTransaction"
	ActionStopTransaction    = "StopTransaction"
	ActionMeterValues        = "MeterValues"
	ActionDataTransfer       = "DataTransfer"
	ActionReserveNow         = "ReserveNow"
	ActionCancelReservation  = "CancelReservation"
)

// Outbound administrative command names.
const (
	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
	ActionChangeAvailability     = "ChangeAvailability"
	ActionReset                  = "Reset"
	ActionUnlockConnector        = "UnlockConnector"
	ActionGetConfiguration       = "GetConfiguration"
	ActionChangeConfiguration    = "ChangeConfiguration"
)

// Authorization verdicts returned in idTagInfo.
const (
	AuthorizationAccepted = "Accepted"
	AuthorizationBlocked  = "Blocked"
	AuthorizationExpired  = "Expired"
	AuthorizationInvalid  = "Invalid"
)

// Registration statuses for BootNotification.
const (
	RegistrationAccepted = "Accepted"
	RegistrationRejected = "Rejected"
)

// Connector statuses as reported by StatusNotification.
const (
	ConnectorStatusAvailable     = "Available"
	ConnectorStatusPreparing     = "Preparing"
	ConnectorStatusCharging      = "Charging"
	ConnectorStatusSuspendedEVSE = "SuspendedEVSE"
	ConnectorStatusSuspendedEV   = "SuspendedEV"
	ConnectorStatusFinishing     = "Finishing"
	ConnectorStatusReserved      = "Reserved"
	ConnectorStatusUnavailable   = "Unavailable"
	ConnectorStatusFaulted       = "Faulted"
)

// Reservation statuses for ReserveNow responses.
const (
	ReservationAccepted    = "Accepted"
	ReservationFaulted     = "Faulted"
	ReservationOccupied    = "Occupied"
	ReservationRejected    = "Rejected"
	ReservationUnavailable = "Unavailable"
)

// DataTransfer statuses.
const (
	DataTransferAccepted        = "Accepted"
	DataTransferRejected        = "Rejected"
	DataTransferUnknownMsgID    = "UnknownMessageId"
	DataTransferUnknownVendorID = "UnknownVendorId"
)

// StopReasonZombieAutoClosed marks sessions force-stopped by the
// zombie-session guard rather than by a StopTransaction from the station.
const StopReasonZombieAutoClosed = "ZombieSessionAutoClosed"

// IdTagInfo carries the authorization verdict for an idTag.
type IdTagInfo struct {
	Status      string     `json:"status"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	ParentIdTag string     `json:"parentIdTag,omitempty"`
}

type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	Iccid                   string `json:"iccid,omitempty"`
	Imsi                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

type BootNotificationResponse struct {
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
}

type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

type AuthorizeRequest struct {
	IdTag string `json:"idTag"`
}

type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

type StatusNotificationRequest struct {
	ConnectorID     int    `json:"connectorId"`
	Status          string `json:"status"`
	ErrorCode       string `json:"errorCode"`
	Info            string `json:"info,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
	VendorID        string `json:"vendorId,omitempty"`
	VendorErrorCode string `json:"vendorErrorCode,omitempty"`
}

type StatusNotificationResponse struct{}

type StartTransactionRequest struct {
	ConnectorID   int       `json:"connectorId"`
	IdTag         string    `json:"idTag"`
	MeterStart    int       `json:"meterStart"`
	Timestamp     time.Time `json:"timestamp"`
	ReservationID *int      `json:"reservationId,omitempty"`
}

type StartTransactionResponse struct {
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
	TransactionID int       `json:"transactionId"`
}

// SampledValue is one measurement inside a MeterValue group. Value is a
// decimal string on the wire.
type SampledValue struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// MeterValue is a timestamped group of sampled values.
type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

type StopTransactionRequest struct {
	TransactionID   int          `json:"transactionId"`
	IdTag           string       `json:"idTag,omitempty"`
	MeterStop       int          `json:"meterStop"`
	Timestamp       time.Time    `json:"timestamp"`
	Reason          string       `json:"reason,omitempty"`
	TransactionData []MeterValue `json:"transactionData,omitempty"`
}

type StopTransactionResponse struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

type MeterValuesRequest struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

type MeterValuesResponse struct{}

type DataTransferRequest struct {
	VendorID  string `json:"vendorId"`
	MessageID string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

type DataTransferResponse struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

type ReserveNowRequest struct {
	ConnectorID int       `json:"connectorId"`
	ExpiryDate  time.Time `json:"expiryDate"`
	IdTag       string    `json:"idTag"`
	ParentIdTag string    `json:"parentIdTag,omitempty"`
}

type ReserveNowResponse struct {
	Status        string `json:"status"`
	ReservationID int    `json:"reservationId,omitempty"`
}

type CancelReservationRequest struct {
	ReservationID int `json:"reservationId"`
}

type CancelReservationResponse struct {
	Status string `json:"status"`
}
