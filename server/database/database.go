package database

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseType represents the type of database to use
type DatabaseType string

const (
	// SQLite database type
	SQLite DatabaseType = "sqlite"
	// PostgreSQL database type
	PostgreSQL DatabaseType = "postgres"
)

// ErrNotFound is returned by lookups when no matching record exists.
var ErrNotFound = gorm.ErrRecordNotFound

// Config holds database configuration
type Config struct {
	Type         DatabaseType
	Host         string
	Port         int
	User         string
	Password     string
	DatabaseName string
	SSLMode      string
	SQLitePath   string
}

// NewConfig creates a new database configuration with values from environment variables
func NewConfig() *Config {
	dbType := DatabaseType(getEnv("DB_TYPE", string(SQLite)))

	return &Config{
		Type:         dbType,
		Host:         getEnv("DB_HOST", "localhost"),
		Port:         getEnvAsInt("DB_PORT", 5432),
		User:         getEnv("DB_USER", "postgres"),
		Password:     getEnv("DB_PASSWORD", "postgres"),
		DatabaseName: getEnv("DB_NAME", "ocpp_gateway"),
		SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		SQLitePath:   getEnv("DB_SQLITE_PATH", "ocpp_gateway.db"),
	}
}

// Service provides database operations
type Service struct {
	db       *gorm.DB
	dbConfig *Config
}

// NewService creates a new database service
func NewService(config *Config) (*Service, error) {
	var db *gorm.DB
	var err error

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	switch config.Type {
	case PostgreSQL:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			config.Host, config.Port, config.User, config.Password, config.DatabaseName, config.SSLMode)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: newLogger,
		})
	case SQLite:
		db, err = gorm.Open(sqlite.Open(config.SQLitePath), &gorm.Config{
			Logger: newLogger,
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return NewServiceWithDB(db, config)
}

// NewServiceWithDB wraps an existing GORM handle; used by tests with an
// in-memory database.
func NewServiceWithDB(db *gorm.DB, config *Config) (*Service, error) {
	err := db.AutoMigrate(
		&ChargePoint{},
		&Connector{},
		&ChargingSession{},
		&MeterReading{},
		&IdTag{},
		&Reservation{},
		&EventLog{},
		&RawMessageLog{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	return &Service{db: db, dbConfig: config}, nil
}

// GetDB returns the underlying GORM database
func (s *Service) GetDB() *gorm.DB {
	return s.db
}

// IsNotFound reports whether err means a record was absent rather than a
// collaborator failure.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ---- Station directory ----

// SaveChargePoint creates or updates a charge point in the station directory
func (s *Service) SaveChargePoint(cp *ChargePoint) error {
	result := s.db.Save(cp)
	return result.Error
}

// GetChargePoint retrieves a charge point by ID
func (s *Service) GetChargePoint(id string) (*ChargePoint, error) {
	var cp ChargePoint
	result := s.db.First(&cp, "id = ?", id)
	if result.Error != nil {
		return nil, result.Error
	}
	return &cp, nil
}

// ListChargePoints retrieves all charge points
func (s *Service) ListChargePoints() ([]ChargePoint, error) {
	var chargePoints []ChargePoint
	result := s.db.Find(&chargePoints)
	if result.Error != nil {
		return nil, result.Error
	}
	return chargePoints, nil
}

// SetChargePointConnected flips the connected flag and, on disconnect,
// marks the station OFFLINE in the directory.
func (s *Service) SetChargePointConnected(id string, connected bool) error {
	updates := map[string]interface{}{
		"is_connected": connected,
		"updated_at":   time.Now(),
	}
	if connected {
		updates["status"] = ChargePointStatusOnline
	} else {
		updates["status"] = ChargePointStatusOffline
	}
	result := s.db.Model(&ChargePoint{}).Where("id = ?", id).Updates(updates)
	return result.Error
}

// TouchHeartbeat stamps the last-heartbeat time for a charge point.
func (s *Service) TouchHeartbeat(id string, at time.Time) error {
	result := s.db.Model(&ChargePoint{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_heartbeat": at,
		"updated_at":     at,
	})
	return result.Error
}

// ---- Connector directory ----

// SaveConnector creates or updates a connector
func (s *Service) SaveConnector(connector *Connector) error {
	result := s.db.Save(connector)
	return result.Error
}

// GetConnector retrieves a connector by charge point ID and connector ID
func (s *Service) GetConnector(chargePointID string, connectorID int) (*Connector, error) {
	var connector Connector
	result := s.db.First(&connector, "charge_point_id = ? AND connector_id = ?", chargePointID, connectorID)
	if result.Error != nil {
		return nil, result.Error
	}
	return &connector, nil
}

// ListConnectors retrieves all connectors for a charge point
func (s *Service) ListConnectors(chargePointID string) ([]Connector, error) {
	var connectors []Connector
	result := s.db.Find(&connectors, "charge_point_id = ?", chargePointID)
	if result.Error != nil {
		return nil, result.Error
	}
	return connectors, nil
}

// ---- Session store ----

// CreateSession creates a new charging session
func (s *Service) CreateSession(session *ChargingSession) error {
	result := s.db.Create(session)
	return result.Error
}

// UpdateSession updates an existing charging session
func (s *Service) UpdateSession(session *ChargingSession) error {
	result := s.db.Save(session)
	return result.Error
}

// GetActiveSessionByTransaction finds the ACTIVE session for a charge point
// and OCPP transaction id.
func (s *Service) GetActiveSessionByTransaction(chargePointID string, transactionID int) (*ChargingSession, error) {
	var session ChargingSession
	result := s.db.Where("charge_point_id = ? AND transaction_id = ? AND status = ?",
		chargePointID, transactionID, SessionStatusActive).First(&session)
	if result.Error != nil {
		return nil, result.Error
	}
	return &session, nil
}

// GetActiveSessionsForChargePoint retrieves all ACTIVE sessions on a station.
func (s *Service) GetActiveSessionsForChargePoint(chargePointID string) ([]ChargingSession, error) {
	var sessions []ChargingSession
	result := s.db.Where("charge_point_id = ? AND status = ?", chargePointID, SessionStatusActive).
		Find(&sessions)
	if result.Error != nil {
		return nil, result.Error
	}
	return sessions, nil
}

// ListSessions retrieves sessions with optional filters
func (s *Service) ListSessions(chargePointID string, status string) ([]ChargingSession, error) {
	db := s.db

	if chargePointID != "" {
		db = db.Where("charge_point_id = ?", chargePointID)
	}
	if status != "" {
		db = db.Where("status = ?", status)
	}

	var sessions []ChargingSession
	result := db.Order("start_timestamp desc").Find(&sessions)
	if result.Error != nil {
		return nil, result.Error
	}
	return sessions, nil
}

// AddMeterReading appends a sampled meter value
func (s *Service) AddMeterReading(reading *MeterReading) error {
	result := s.db.Create(reading)
	return result.Error
}

// GetMeterReadings gets all readings for a transaction
func (s *Service) GetMeterReadings(transactionID int) ([]MeterReading, error) {
	var readings []MeterReading
	result := s.db.Find(&readings, "transaction_id = ?", transactionID)
	if result.Error != nil {
		return nil, result.Error
	}
	return readings, nil
}

// ---- Credential directory ----

// GetIdTag retrieves a credential record by tag
func (s *Service) GetIdTag(tag string) (*IdTag, error) {
	var idTag IdTag
	result := s.db.First(&idTag, "tag = ?", tag)
	if result.Error != nil {
		return nil, result.Error
	}
	return &idTag, nil
}

// SaveIdTag creates or updates a credential record
func (s *Service) SaveIdTag(idTag *IdTag) error {
	result := s.db.Save(idTag)
	return result.Error
}

// ---- Reservation store ----

// CreateReservation creates a new reservation
func (s *Service) CreateReservation(reservation *Reservation) error {
	result := s.db.Create(reservation)
	return result.Error
}

// SaveReservation updates an existing reservation
func (s *Service) SaveReservation(reservation *Reservation) error {
	result := s.db.Save(reservation)
	return result.Error
}

// GetActiveReservation finds an ACTIVE reservation by station and id.
func (s *Service) GetActiveReservation(chargePointID string, reservationID int) (*Reservation, error) {
	var reservation Reservation
	result := s.db.Where("charge_point_id = ? AND id = ? AND status = ?",
		chargePointID, reservationID, ReservationStatusActive).First(&reservation)
	if result.Error != nil {
		return nil, result.Error
	}
	return &reservation, nil
}

// ExpireReservations marks every ACTIVE reservation past its expiry as
// EXPIRED and returns how many rows changed.
func (s *Service) ExpireReservations(now time.Time) (int64, error) {
	result := s.db.Model(&Reservation{}).
		Where("status = ? AND expiry_date < ?", ReservationStatusActive, now).
		Updates(map[string]interface{}{
			"status":     ReservationStatusExpired,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

// ---- Logs ----

// AddEventLog adds an operational log entry
func (s *Service) AddEventLog(entry *EventLog) error {
	result := s.db.Create(entry)
	return result.Error
}

// GetEventLogs retrieves operational logs with optional filters
func (s *Service) GetEventLogs(chargePointID string, level string, limit int, offset int) ([]EventLog, error) {
	db := s.db

	if chargePointID != "" {
		db = db.Where("charge_point_id = ?", chargePointID)
	}
	if level != "" {
		db = db.Where("level = ?", level)
	}

	var logs []EventLog
	result := db.Order("timestamp desc").Limit(limit).Offset(offset).Find(&logs)
	if result.Error != nil {
		return nil, result.Error
	}
	return logs, nil
}

// SaveRawMessageLogs writes a batch of wire-level audit rows.
func (s *Service) SaveRawMessageLogs(entries []RawMessageLog) error {
	if len(entries) == 0 {
		return nil
	}
	result := s.db.CreateInBatches(entries, 20)
	return result.Error
}

// getEnv gets environment variable with fallback
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as int with fallback
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return defaultValue
	}

	return value
}
