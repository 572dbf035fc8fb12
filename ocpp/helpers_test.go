package ocppserver

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ocpp-gateway/server/database"
)

// newTestService opens a per-test in-memory database.
func newTestService(t *testing.T) *database.Service {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	svc, err := database.NewServiceWithDB(db, &database.Config{Type: database.SQLite})
	require.NoError(t, err)
	return svc
}

func newTestCentralSystem(t *testing.T) (*CentralSystem, *database.Service) {
	t.Helper()

	db := newTestService(t)
	config := NewConfig().WithHeartbeatInterval(300).WithCommandTimeout(time.Second)
	cs := NewCentralSystem(config, db, testLogger())
	t.Cleanup(cs.Close)
	return cs, db
}

func registerChargePoint(t *testing.T, db *database.Service, id string) {
	t.Helper()
	require.NoError(t, db.SaveChargePoint(&database.ChargePoint{
		ID:         id,
		Registered: true,
		Status:     database.ChargePointStatusOffline,
	}))
}

func saveConnector(t *testing.T, db *database.Service, cpID string, connectorID int, status string) {
	t.Helper()
	require.NoError(t, db.SaveConnector(&database.Connector{
		ChargePointID: cpID,
		ConnectorID:   connectorID,
		Status:        status,
		UpdatedAt:     time.Now(),
	}))
}

func saveIdTag(t *testing.T, db *database.Service, tag database.IdTag) {
	t.Helper()
	require.NoError(t, db.SaveIdTag(&tag))
}

// fakeTransport records frames written to it and whether it was closed.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	types  []int
	closed bool
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, messageType)
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) lastFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}
