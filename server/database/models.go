package database

import (
	"time"
)

// Session lifecycle states.
const (
	SessionStatusActive    = "ACTIVE"
	SessionStatusCompleted = "COMPLETED"
)

// Reservation lifecycle states.
const (
	ReservationStatusActive    = "ACTIVE"
	ReservationStatusCancelled = "CANCELLED"
	ReservationStatusExpired   = "EXPIRED"
)

// Operational status of a charge point as tracked by the central system.
const (
	ChargePointStatusOnline      = "ONLINE"
	ChargePointStatusOffline     = "OFFLINE"
	ChargePointStatusError       = "ERROR"
	ChargePointStatusMaintenance = "MAINTENANCE"
)

// IdTag credential states. These are the stored states of the credential
// itself, not the OCPP authorization verdicts derived from them.
const (
	IdTagStatusActive  = "Active"
	IdTagStatusBlocked = "Blocked"
	IdTagStatusExpired = "Expired"
)

// ChargePoint represents a charging station in the station directory.
// Only provisioned records (Registered == true) are allowed to connect.
type ChargePoint struct {
	ID                   string    `gorm:"primaryKey" json:"id"`
	Vendor               string    `json:"vendor"`
	Model                string    `json:"model"`
	SerialNumber         string    `json:"serialNumber,omitempty"`
	FirmwareVersion      string    `json:"firmwareVersion,omitempty"`
	Status               string    `json:"status"` // ONLINE, OFFLINE, ERROR, MAINTENANCE
	Registered           bool      `json:"registered"`
	HeartbeatInterval    int       `json:"heartbeatInterval"`
	LastHeartbeat        time.Time `json:"lastHeartbeat"`
	LastBootNotification time.Time `json:"lastBootNotification"`
	IsConnected          bool      `json:"isConnected"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Connector represents a single socket on a charge point. Connector id 0
// addresses the charge point itself and is never stored as a row here.
type Connector struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ChargePointID   string    `gorm:"index:idx_connector,unique" json:"chargePointId"`
	ConnectorID     int       `gorm:"index:idx_connector,unique" json:"connectorId"`
	Status          string    `json:"status"` // OCPP status: Available, Preparing, Charging, ...
	ErrorCode       string    `json:"errorCode,omitempty"`
	Info            string    `json:"info,omitempty"`
	VendorErrorCode string    `json:"vendorErrorCode,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ChargingSession represents one charging event from start to stop.
// TransactionID is copied from the storage-assigned primary key right after
// creation, so it is always > 0 once assigned and unique without a counter.
type ChargingSession struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TransactionID  int        `gorm:"index" json:"transactionId"`
	ChargePointID  string     `gorm:"index" json:"chargePointId"`
	ConnectorID    int        `json:"connectorId"`
	IdTag          string     `json:"idTag"`
	StartTimestamp time.Time  `json:"startTimestamp"`
	StopTimestamp  *time.Time `json:"stopTimestamp,omitempty"`
	MeterStart     int        `json:"meterStart"`           // Wh
	MeterStop      *int       `json:"meterStop,omitempty"`  // Wh
	EnergyKwh      *float64   `json:"energyKwh,omitempty"`  // derived on stop
	StopReason     string     `json:"stopReason,omitempty"` // OCPP reason or ZombieSessionAutoClosed
	Status         string     `gorm:"index" json:"status"`  // ACTIVE, COMPLETED
}

// MeterReading represents one sampled value reported during a transaction.
type MeterReading struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TransactionID int       `gorm:"index" json:"transactionId"`
	ChargePointID string    `json:"chargePointId"`
	ConnectorID   int       `json:"connectorId"`
	Timestamp     time.Time `json:"timestamp"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit"`      // Wh, kWh, W, A, V, ...
	Measurand     string    `json:"measurand"` // Energy.Active.Import.Register is billing-relevant
	Context       string    `json:"context,omitempty"`
}

// IdTag represents an authorized RFID card or token with an optional
// validity window. Missing bounds are open.
type IdTag struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Tag         string     `gorm:"unique" json:"idTag"`
	Status      string     `json:"status"` // Active, Blocked, Expired
	ValidFrom   *time.Time `json:"validFrom,omitempty"`
	ValidUntil  *time.Time `json:"validUntil,omitempty"`
	ParentIdTag string     `json:"parentIdTag,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Reservation represents a connector or station reservation. The OCPP
// reservation id is the storage-assigned primary key.
type Reservation struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ChargePointID string    `gorm:"index" json:"chargePointId"`
	ConnectorID   *int      `json:"connectorId,omitempty"`
	IdTag         string    `json:"idTag"`
	ExpiryDate    time.Time `json:"expiryDate"`
	Status        string    `gorm:"index" json:"status"` // ACTIVE, CANCELLED, EXPIRED
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// EventLog represents an operational log entry. Writes are best-effort.
type EventLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ChargePointID string    `json:"chargePointId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Level         string    `json:"level"`  // INFO, WARNING, ERROR, DEBUG
	Source        string    `json:"source"` // System, ChargePoint
	Message       string    `json:"message"`
}

// RawMessageLog represents a raw OCPP frame as it crossed the wire.
type RawMessageLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ChargePointID string    `json:"chargePointId"`
	Timestamp     time.Time `json:"timestamp"`
	Direction     string    `json:"direction"`             // SEND or RECV
	MessageType   string    `json:"messageType,omitempty"` // Request, Response, Error
	Action        string    `json:"action,omitempty"`
	MessageID     string    `json:"messageId,omitempty"`
	Message       string    `gorm:"type:text" json:"message"`
}
