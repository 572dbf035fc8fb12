package ocppserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpp-gateway/server/database"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestAuthorizeClassification(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	now := time.Now()

	saveIdTag(t, db, database.IdTag{Tag: "TAG-active", Status: database.IdTagStatusActive})
	saveIdTag(t, db, database.IdTag{Tag: "TAG-blocked", Status: database.IdTagStatusBlocked})
	saveIdTag(t, db, database.IdTag{Tag: "TAG-inactive", Status: database.IdTagStatusExpired})
	saveIdTag(t, db, database.IdTag{
		Tag:        "TAG-lapsed",
		Status:     database.IdTagStatusActive,
		ValidUntil: timePtr(now.Add(-time.Hour)),
	})
	saveIdTag(t, db, database.IdTag{
		Tag:       "TAG-future",
		Status:    database.IdTagStatusActive,
		ValidFrom: timePtr(now.Add(time.Hour)),
	})
	saveIdTag(t, db, database.IdTag{
		Tag:        "TAG-window",
		Status:     database.IdTagStatusActive,
		ValidFrom:  timePtr(now.Add(-time.Hour)),
		ValidUntil: timePtr(now.Add(time.Hour)),
	})
	// Blocked outranks an elapsed validity window.
	saveIdTag(t, db, database.IdTag{
		Tag:        "TAG-blocked-lapsed",
		Status:     database.IdTagStatusBlocked,
		ValidUntil: timePtr(now.Add(-time.Hour)),
	})

	cases := []struct {
		tag  string
		want string
	}{
		{"TAG-unknown", AuthorizationInvalid},
		{"TAG-active", AuthorizationAccepted},
		{"TAG-blocked", AuthorizationBlocked},
		{"TAG-inactive", AuthorizationBlocked},
		{"TAG-lapsed", AuthorizationExpired},
		{"TAG-future", AuthorizationInvalid},
		{"TAG-window", AuthorizationAccepted},
		{"TAG-blocked-lapsed", AuthorizationBlocked},
	}

	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			resp, err := cs.handleAuthorize("CP-1", &AuthorizeRequest{IdTag: tc.tag})
			require.NoError(t, err, "authorize must never fail")
			assert.Equal(t, tc.want, resp.IdTagInfo.Status)
		})
	}
}

func TestBootNotificationRejectsUnregisteredStation(t *testing.T) {
	cs, _ := newTestCentralSystem(t)

	resp, err := cs.handleBootNotification("CP-ghost", &BootNotificationRequest{
		ChargePointVendor: "ACME",
		ChargePointModel:  "X1",
	})
	require.NoError(t, err)
	assert.Equal(t, RegistrationRejected, resp.Status)
	assert.Positive(t, resp.Interval)
	assert.False(t, resp.CurrentTime.IsZero())
}

func TestBootNotificationUpdatesStationMetadata(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")

	resp, err := cs.handleBootNotification("CP-1", &BootNotificationRequest{
		ChargePointVendor:       "ACME",
		ChargePointModel:        "X1",
		ChargePointSerialNumber: "SN-42",
		FirmwareVersion:         "1.2.3",
	})
	require.NoError(t, err)
	assert.Equal(t, RegistrationAccepted, resp.Status)
	assert.Equal(t, 300, resp.Interval)

	cp, err := db.GetChargePoint("CP-1")
	require.NoError(t, err)
	assert.Equal(t, "ACME", cp.Vendor)
	assert.Equal(t, "X1", cp.Model)
	assert.Equal(t, "SN-42", cp.SerialNumber)
	assert.Equal(t, "1.2.3", cp.FirmwareVersion)
	assert.Equal(t, database.ChargePointStatusOnline, cp.Status)
	assert.False(t, cp.LastBootNotification.IsZero())
}

func TestBootNotificationKeepsProvisionedInterval(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	require.NoError(t, db.SaveChargePoint(&database.ChargePoint{
		ID:                "CP-1",
		Registered:        true,
		HeartbeatInterval: 120,
	}))

	resp, err := cs.handleBootNotification("CP-1", &BootNotificationRequest{
		ChargePointVendor: "ACME",
		ChargePointModel:  "X1",
	})
	require.NoError(t, err)
	assert.Equal(t, 120, resp.Interval, "an interval set per station wins over the default")
}

func TestHeartbeatTouchesTimestamp(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")

	before := time.Now()
	resp, err := cs.handleHeartbeat("CP-1")
	require.NoError(t, err)
	assert.False(t, resp.CurrentTime.Before(before))

	cp, err := db.GetChargePoint("CP-1")
	require.NoError(t, err)
	assert.False(t, cp.LastHeartbeat.Before(before))
}

func TestHeartbeatForUnknownStationStillAnswers(t *testing.T) {
	cs, _ := newTestCentralSystem(t)

	resp, err := cs.handleHeartbeat("CP-ghost")
	require.NoError(t, err)
	assert.False(t, resp.CurrentTime.IsZero())
}

func TestStatusNotificationConnectorZeroUpdatesStation(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")

	_, err := cs.handleStatusNotification("CP-1", &StatusNotificationRequest{
		ConnectorID: 0,
		Status:      ConnectorStatusFaulted,
		ErrorCode:   "HighTemperature",
	})
	require.NoError(t, err)

	cp, err := db.GetChargePoint("CP-1")
	require.NoError(t, err)
	assert.Equal(t, database.ChargePointStatusError, cp.Status)

	connectors, err := db.ListConnectors("CP-1")
	require.NoError(t, err)
	assert.Empty(t, connectors, "connector 0 must not create a connector row")
}

func TestStatusNotificationUpsertsConnector(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")

	_, err := cs.handleStatusNotification("CP-1", &StatusNotificationRequest{
		ConnectorID:     1,
		Status:          ConnectorStatusFaulted,
		ErrorCode:       "GroundFailure",
		Info:            "RCD tripped",
		VendorErrorCode: "E42",
	})
	require.NoError(t, err)

	connector, err := db.GetConnector("CP-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ConnectorStatusFaulted, connector.Status)
	assert.Equal(t, "GroundFailure", connector.ErrorCode)
	assert.Equal(t, "RCD tripped", connector.Info)
	assert.Equal(t, "E42", connector.VendorErrorCode)

	// Recovery clears the fault details.
	_, err = cs.handleStatusNotification("CP-1", &StatusNotificationRequest{
		ConnectorID: 1,
		Status:      ConnectorStatusAvailable,
		ErrorCode:   "NoError",
	})
	require.NoError(t, err)

	connector, err = db.GetConnector("CP-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ConnectorStatusAvailable, connector.Status)
	assert.Empty(t, connector.ErrorCode)
	assert.Empty(t, connector.Info)
	assert.Empty(t, connector.VendorErrorCode)
}

func TestStartTransactionUnknownStationFails(t *testing.T) {
	cs, _ := newTestCentralSystem(t)

	_, err := cs.handleStartTransaction("CP-ghost", &StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
	})
	assert.Error(t, err, "a live connection without a directory record is a consistency bug")
}

func TestStartTransactionRejectsUnauthorizedTag(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 1, ConnectorStatusAvailable)
	saveIdTag(t, db, database.IdTag{Tag: "TAG-blocked", Status: database.IdTagStatusBlocked})

	resp, err := cs.handleStartTransaction("CP-1", &StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "TAG-blocked",
	})
	require.NoError(t, err)
	assert.Equal(t, AuthorizationBlocked, resp.IdTagInfo.Status)
	assert.Zero(t, resp.TransactionID)

	sessions, err := db.GetActiveSessionsForChargePoint("CP-1")
	require.NoError(t, err)
	assert.Empty(t, sessions, "no session may exist for a rejected start")
}

func TestStartTransactionRejectsUnusableConnector(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveIdTag(t, db, database.IdTag{Tag: "TAG-1", Status: database.IdTagStatusActive})
	saveConnector(t, db, "CP-1", 2, ConnectorStatusFaulted)
	saveConnector(t, db, "CP-1", 3, ConnectorStatusUnavailable)
	saveConnector(t, db, "CP-1", 4, ConnectorStatusReserved)

	for _, connectorID := range []int{1, 2, 3, 4} { // 1 has no row at all
		resp, err := cs.handleStartTransaction("CP-1", &StartTransactionRequest{
			ConnectorID: connectorID,
			IdTag:       "TAG-1",
		})
		require.NoError(t, err)
		assert.Equal(t, AuthorizationInvalid, resp.IdTagInfo.Status, "connector %d", connectorID)
		assert.Zero(t, resp.TransactionID, "connector %d", connectorID)
	}
}

func TestStartTransactionCreatesSession(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 1, ConnectorStatusPreparing)
	saveIdTag(t, db, database.IdTag{Tag: "TAG-1", Status: database.IdTagStatusActive})

	resp, err := cs.handleStartTransaction("CP-1", &StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
		MeterStart:  1000,
		Timestamp:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, AuthorizationAccepted, resp.IdTagInfo.Status)
	assert.Positive(t, resp.TransactionID, "transaction ids come from storage identity and are always positive")

	session, err := db.GetActiveSessionByTransaction("CP-1", resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStatusActive, session.Status)
	assert.Equal(t, 1000, session.MeterStart)
	assert.Equal(t, "TAG-1", session.IdTag)
	assert.Equal(t, int(session.ID), session.TransactionID)

	connector, err := db.GetConnector("CP-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ConnectorStatusCharging, connector.Status)
}

func TestStartTransactionClosesZombieSession(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 1, ConnectorStatusPreparing)
	saveIdTag(t, db, database.IdTag{Tag: "TAG-1", Status: database.IdTagStatusActive})

	first, err := cs.handleStartTransaction("CP-1", &StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
		MeterStart:  500,
	})
	require.NoError(t, err)

	// The station reset without sending StopTransaction; its next start on
	// the same connector must settle the stale session first. The connector
	// still reads Charging, which is the zombie scenario and must not be
	// treated as an occupied-connector rejection.
	second, err := cs.handleStartTransaction("CP-1", &StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
		MeterStart:  800,
	})
	require.NoError(t, err)
	assert.Equal(t, AuthorizationAccepted, second.IdTagInfo.Status)
	assert.Greater(t, second.TransactionID, first.TransactionID)

	sessions, err := db.ListSessions("CP-1", "")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	var zombie *database.ChargingSession
	for i := range sessions {
		if sessions[i].TransactionID == first.TransactionID {
			zombie = &sessions[i]
		}
	}
	require.NotNil(t, zombie)
	assert.Equal(t, database.SessionStatusCompleted, zombie.Status)
	assert.Equal(t, StopReasonZombieAutoClosed, zombie.StopReason)
	require.NotNil(t, zombie.MeterStop)
	assert.Equal(t, zombie.MeterStart, *zombie.MeterStop)
	require.NotNil(t, zombie.EnergyKwh)
	assert.Zero(t, *zombie.EnergyKwh)

	active, err := db.GetActiveSessionsForChargePoint("CP-1")
	require.NoError(t, err)
	require.Len(t, active, 1, "only the new session may remain active")
	assert.Equal(t, second.TransactionID, active[0].TransactionID)
}

func TestStopTransactionFinalizesSession(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 1, ConnectorStatusPreparing)
	saveIdTag(t, db, database.IdTag{Tag: "TAG-1", Status: database.IdTagStatusActive})

	start, err := cs.handleStartTransaction("CP-1", &StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
		MeterStart:  1000,
	})
	require.NoError(t, err)

	resp, err := cs.handleStopTransaction("CP-1", &StopTransactionRequest{
		TransactionID: start.TransactionID,
		IdTag:         "TAG-1",
		MeterStop:     1500,
		Timestamp:     time.Now(),
		Reason:        "EVDisconnected",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.IdTagInfo)
	assert.Equal(t, AuthorizationAccepted, resp.IdTagInfo.Status)

	sessions, err := db.ListSessions("CP-1", database.SessionStatusCompleted)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	session := sessions[0]
	require.NotNil(t, session.MeterStop)
	assert.Equal(t, 1500, *session.MeterStop)
	require.NotNil(t, session.EnergyKwh)
	assert.InDelta(t, 0.5, *session.EnergyKwh, 1e-9)
	assert.Equal(t, "EVDisconnected", session.StopReason)
	require.NotNil(t, session.StopTimestamp)

	connector, err := db.GetConnector("CP-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ConnectorStatusAvailable, connector.Status)

	// A duplicate stop for the same transaction is a harmless no-op.
	resp, err = cs.handleStopTransaction("CP-1", &StopTransactionRequest{
		TransactionID: start.TransactionID,
		MeterStop:     1500,
	})
	require.NoError(t, err)
	assert.Nil(t, resp.IdTagInfo)

	sessions, err = db.ListSessions("CP-1", "")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestStopTransactionUnknownTransactionIsIdempotent(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")

	resp, err := cs.handleStopTransaction("CP-1", &StopTransactionRequest{
		TransactionID: 9999,
		MeterStop:     100,
	})
	require.NoError(t, err, "a stop for an unknown transaction must still succeed")
	assert.Nil(t, resp.IdTagInfo, "no idTag in the request means no idTagInfo in the response")

	sessions, err := db.ListSessions("CP-1", "")
	require.NoError(t, err)
	assert.Empty(t, sessions, "an unknown stop must not fabricate a session")
}

func TestStopTransactionWithoutIdTagOmitsVerdict(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 1, ConnectorStatusAvailable)
	saveIdTag(t, db, database.IdTag{Tag: "TAG-1", Status: database.IdTagStatusActive})

	start, err := cs.handleStartTransaction("CP-1", &StartTransactionRequest{ConnectorID: 1, IdTag: "TAG-1"})
	require.NoError(t, err)

	resp, err := cs.handleStopTransaction("CP-1", &StopTransactionRequest{
		TransactionID: start.TransactionID,
		MeterStop:     50,
	})
	require.NoError(t, err)
	assert.Nil(t, resp.IdTagInfo)
}

func TestStopTransactionPersistsTransactionData(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 1, ConnectorStatusAvailable)
	saveIdTag(t, db, database.IdTag{Tag: "TAG-1", Status: database.IdTagStatusActive})

	start, err := cs.handleStartTransaction("CP-1", &StartTransactionRequest{ConnectorID: 1, IdTag: "TAG-1", MeterStart: 0})
	require.NoError(t, err)

	_, err = cs.handleStopTransaction("CP-1", &StopTransactionRequest{
		TransactionID: start.TransactionID,
		MeterStop:     2000,
		TransactionData: []MeterValue{{
			Timestamp: time.Now(),
			SampledValue: []SampledValue{
				{Value: "1200", Unit: "Wh"},
				{Value: "2000"},
			},
		}},
	})
	require.NoError(t, err)

	readings, err := db.GetMeterReadings(start.TransactionID)
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}

func TestMeterValuesWithoutTransactionAreAccepted(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")

	_, err := cs.handleMeterValues("CP-1", &MeterValuesRequest{
		ConnectorID: 1,
		MeterValue: []MeterValue{{
			Timestamp:    time.Now(),
			SampledValue: []SampledValue{{Value: "42"}},
		}},
	})
	require.NoError(t, err)

	readings, err := db.GetMeterReadings(0)
	require.NoError(t, err)
	assert.Empty(t, readings, "clock-style readings without a transaction are discarded")
}

func TestMeterValuesForUnknownTransactionAreAccepted(t *testing.T) {
	cs, _ := newTestCentralSystem(t)

	txID := 777
	_, err := cs.handleMeterValues("CP-1", &MeterValuesRequest{
		ConnectorID:   1,
		TransactionID: &txID,
		MeterValue: []MeterValue{{
			Timestamp:    time.Now(),
			SampledValue: []SampledValue{{Value: "42"}},
		}},
	})
	require.NoError(t, err, "meter values must never produce an error response")
}

func TestMeterValuesPersistReadingsWithDefaults(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 1, ConnectorStatusAvailable)
	saveIdTag(t, db, database.IdTag{Tag: "TAG-1", Status: database.IdTagStatusActive})

	start, err := cs.handleStartTransaction("CP-1", &StartTransactionRequest{ConnectorID: 1, IdTag: "TAG-1"})
	require.NoError(t, err)

	_, err = cs.handleMeterValues("CP-1", &MeterValuesRequest{
		ConnectorID:   1,
		TransactionID: &start.TransactionID,
		MeterValue: []MeterValue{{
			Timestamp: time.Now(),
			SampledValue: []SampledValue{
				{Value: "1234.5"},
				{Value: "16.2", Unit: "A", Measurand: "Current.Import"},
				{Value: "not-a-number"},
			},
		}},
	})
	require.NoError(t, err)

	readings, err := db.GetMeterReadings(start.TransactionID)
	require.NoError(t, err)
	require.Len(t, readings, 2, "the unparseable value is skipped")

	assert.Equal(t, 1234.5, readings[0].Value)
	assert.Equal(t, "Wh", readings[0].Unit)
	assert.Equal(t, "Energy.Active.Import.Register", readings[0].Measurand)
	assert.Equal(t, "A", readings[1].Unit)
	assert.Equal(t, "Current.Import", readings[1].Measurand)
}

func TestReserveNowGating(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 2, ConnectorStatusUnavailable)
	saveConnector(t, db, "CP-1", 3, ConnectorStatusFaulted)
	saveConnector(t, db, "CP-1", 4, ConnectorStatusCharging)

	cases := []struct {
		name        string
		connectorID int
		want        string
	}{
		{"missing connector", 1, ReservationRejected},
		{"unavailable", 2, ReservationUnavailable},
		{"faulted", 3, ReservationFaulted},
		{"occupied", 4, ReservationOccupied},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := cs.handleReserveNow("CP-1", &ReserveNowRequest{
				ConnectorID: tc.connectorID,
				IdTag:       "TAG-1",
				ExpiryDate:  time.Now().Add(time.Hour),
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.Status)
			assert.Zero(t, resp.ReservationID)
		})
	}
}

func TestReserveNowAcceptsAvailableConnector(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 1, ConnectorStatusAvailable)

	resp, err := cs.handleReserveNow("CP-1", &ReserveNowRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
		ExpiryDate:  time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, ReservationAccepted, resp.Status)
	assert.Positive(t, resp.ReservationID)

	reservation, err := db.GetActiveReservation("CP-1", resp.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, "TAG-1", reservation.IdTag)

	connector, err := db.GetConnector("CP-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ConnectorStatusReserved, connector.Status)
}

func TestCancelReservationReleasesConnector(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")
	saveConnector(t, db, "CP-1", 1, ConnectorStatusAvailable)

	reserve, err := cs.handleReserveNow("CP-1", &ReserveNowRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
		ExpiryDate:  time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	resp, err := cs.handleCancelReservation("CP-1", &CancelReservationRequest{ReservationID: reserve.ReservationID})
	require.NoError(t, err)
	assert.Equal(t, ReservationAccepted, resp.Status)

	connector, err := db.GetConnector("CP-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ConnectorStatusAvailable, connector.Status)

	// A second cancel finds no active reservation.
	resp, err = cs.handleCancelReservation("CP-1", &CancelReservationRequest{ReservationID: reserve.ReservationID})
	require.NoError(t, err)
	assert.Equal(t, ReservationRejected, resp.Status)
}

func TestCancelReservationUnknownID(t *testing.T) {
	cs, _ := newTestCentralSystem(t)

	resp, err := cs.handleCancelReservation("CP-1", &CancelReservationRequest{ReservationID: 404})
	require.NoError(t, err)
	assert.Equal(t, ReservationRejected, resp.Status)
}

func TestDispatchCallUnknownAction(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")

	transport := &fakeTransport{}
	conn, err := cs.registry.Register("CP-1", transport)
	require.NoError(t, err)

	cs.dispatchCall(conn, &Call{
		UniqueID: "msg-1",
		Action:   "FirmwareStatusNotification",
		Payload:  json.RawMessage(`{}`),
	})

	msg, err := DecodeMessage(transport.lastFrame())
	require.NoError(t, err)
	callErr, ok := msg.(*CallError)
	require.True(t, ok, "unknown actions must answer with CALL_ERROR, got %T", msg)
	assert.Equal(t, "msg-1", callErr.UniqueID)
	assert.Equal(t, ErrorCodeNotImplemented, callErr.ErrorCode)

	assert.True(t, cs.registry.IsConnected("CP-1"), "an unknown action must not cost the connection")
}

func TestDispatchCallHandlerFailure(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")

	transport := &fakeTransport{}
	conn, err := cs.registry.Register("CP-1", transport)
	require.NoError(t, err)

	// Malformed payload makes the registered handler fail.
	cs.dispatchCall(conn, &Call{
		UniqueID: "msg-2",
		Action:   ActionBootNotification,
		Payload:  json.RawMessage(`"not an object"`),
	})

	msg, err := DecodeMessage(transport.lastFrame())
	require.NoError(t, err)
	callErr, ok := msg.(*CallError)
	require.True(t, ok)
	assert.Equal(t, ErrorCodeInternalError, callErr.ErrorCode)
	assert.True(t, cs.registry.IsConnected("CP-1"))
}

func TestDispatchCallSendsResult(t *testing.T) {
	cs, db := newTestCentralSystem(t)
	registerChargePoint(t, db, "CP-1")

	transport := &fakeTransport{}
	conn, err := cs.registry.Register("CP-1", transport)
	require.NoError(t, err)

	cs.dispatchCall(conn, &Call{
		UniqueID: "msg-3",
		Action:   ActionHeartbeat,
		Payload:  json.RawMessage(`{}`),
	})

	msg, err := DecodeMessage(transport.lastFrame())
	require.NoError(t, err)
	result, ok := msg.(*CallResult)
	require.True(t, ok)
	assert.Equal(t, "msg-3", result.UniqueID)

	var resp HeartbeatResponse
	require.NoError(t, json.Unmarshal(result.Payload, &resp))
	assert.False(t, resp.CurrentTime.IsZero())
}
