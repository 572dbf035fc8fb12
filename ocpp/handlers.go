package ocppserver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"ocpp-gateway/server/database"
)

// Defaults for sampled values that omit their metadata, per OCPP 1.6.
const (
	defaultMeterUnit      = "Wh"
	defaultMeterMeasurand = "Energy.Active.Import.Register"
)

func (cs *CentralSystem) registerCoreActions() {
	cs.actions[ActionBootNotification] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		var req BootNotificationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid BootNotification payload: %w", err)
		}
		return cs.handleBootNotification(chargePointID, &req)
	}
	cs.actions[ActionHeartbeat] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		return cs.handleHeartbeat(chargePointID)
	}
	cs.actions[ActionAuthorize] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		var req AuthorizeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid Authorize payload: %w", err)
		}
		return cs.handleAuthorize(chargePointID, &req)
	}
	cs.actions[ActionStatusNotification] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		var req StatusNotificationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid StatusNotification payload: %w", err)
		}
		return cs.handleStatusNotification(chargePointID, &req)
	}
	cs.actions[ActionStartTransaction] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		var req StartTransactionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid StartTransaction payload: %w", err)
		}
		return cs.handleStartTransaction(chargePointID, &req)
	}
	cs.actions[ActionStopTransaction] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		var req StopTransactionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid StopTransaction payload: %w", err)
		}
		return cs.handleStopTransaction(chargePointID, &req)
	}
	cs.actions[ActionMeterValues] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		var req MeterValuesRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid MeterValues payload: %w", err)
		}
		return cs.handleMeterValues(chargePointID, &req)
	}
	cs.actions[ActionDataTransfer] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		var req DataTransferRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid DataTransfer payload: %w", err)
		}
		return cs.vendors.Dispatch(chargePointID, &req), nil
	}
	cs.actions[ActionReserveNow] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		var req ReserveNowRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid ReserveNow payload: %w", err)
		}
		return cs.handleReserveNow(chargePointID, &req)
	}
	cs.actions[ActionCancelReservation] = func(chargePointID string, payload json.RawMessage) (interface{}, error) {
		var req CancelReservationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid CancelReservation payload: %w", err)
		}
		return cs.handleCancelReservation(chargePointID, &req)
	}
}

// lookupIdTag fetches a credential record through a short-lived cache. The
// record is cached, never the verdict, so validity windows stay live.
func (cs *CentralSystem) lookupIdTag(tag string) (*database.IdTag, error) {
	if cached, ok := cs.tagCache.Get(tag); ok {
		return cached.(*database.IdTag), nil
	}
	record, err := cs.db.GetIdTag(tag)
	if err != nil {
		return nil, err
	}
	cs.tagCache.Set(tag, record, cache.DefaultExpiration)
	return record, nil
}

// classifyIdTag applies the authorization classification shared by
// Authorize and StartTransaction. A missing record is Invalid, an inactive
// one Blocked, a past validUntil Expired and a future validFrom Invalid.
// Internal failures also classify as Invalid; this never returns an error.
func (cs *CentralSystem) classifyIdTag(tag string) string {
	record, err := cs.lookupIdTag(tag)
	if err != nil {
		if !database.IsNotFound(err) {
			cs.log.Warnf("credential lookup for %s failed: %v", tag, err)
		}
		return AuthorizationInvalid
	}

	if record.Status != database.IdTagStatusActive {
		return AuthorizationBlocked
	}

	now := time.Now()
	if record.ValidUntil != nil && now.After(*record.ValidUntil) {
		return AuthorizationExpired
	}
	if record.ValidFrom != nil && now.Before(*record.ValidFrom) {
		return AuthorizationInvalid
	}
	return AuthorizationAccepted
}

// handleBootNotification admits only provisioned stations; unregistered
// identifiers cannot self-bootstrap into the directory.
func (cs *CentralSystem) handleBootNotification(chargePointID string, req *BootNotificationRequest) (*BootNotificationResponse, error) {
	now := time.Now()

	interval := cs.config.HeartbeatInterval
	if interval <= 0 {
		interval = 60
	}

	cp, err := cs.db.GetChargePoint(chargePointID)
	if err != nil || !cp.Registered {
		cs.logEvent(chargePointID, "WARNING", "System",
			fmt.Sprintf("BootNotification rejected for unregistered charge point (vendor %s, model %s)",
				req.ChargePointVendor, req.ChargePointModel))
		return &BootNotificationResponse{
			Status:      RegistrationRejected,
			CurrentTime: now,
			Interval:    interval,
		}, nil
	}

	cp.Vendor = req.ChargePointVendor
	cp.Model = req.ChargePointModel
	cp.SerialNumber = req.ChargePointSerialNumber
	cp.FirmwareVersion = req.FirmwareVersion
	cp.LastBootNotification = now
	cp.Status = database.ChargePointStatusOnline
	cp.IsConnected = true
	if cp.HeartbeatInterval <= 0 {
		cp.HeartbeatInterval = interval
	}

	if err := cs.db.SaveChargePoint(cp); err != nil {
		cs.log.WithField("chargePoint", chargePointID).Errorf("failed to save boot metadata: %v", err)
	}

	cs.publish("boot.notification", chargePointID, map[string]interface{}{
		"vendor": req.ChargePointVendor,
		"model":  req.ChargePointModel,
	})

	return &BootNotificationResponse{
		Status:      RegistrationAccepted,
		CurrentTime: now,
		Interval:    cp.HeartbeatInterval,
	}, nil
}

// handleHeartbeat always returns the current time; the timestamp touch is
// best-effort.
func (cs *CentralSystem) handleHeartbeat(chargePointID string) (*HeartbeatResponse, error) {
	now := time.Now()
	if err := cs.db.TouchHeartbeat(chargePointID, now); err != nil {
		cs.log.WithField("chargePoint", chargePointID).Warnf("failed to record heartbeat: %v", err)
	}
	return &HeartbeatResponse{CurrentTime: now}, nil
}

// handleAuthorize never fails; every internal problem classifies as Invalid.
func (cs *CentralSystem) handleAuthorize(chargePointID string, req *AuthorizeRequest) (*AuthorizeResponse, error) {
	status := cs.classifyIdTag(req.IdTag)

	cs.logEvent(chargePointID, "INFO", "System",
		fmt.Sprintf("Authorization attempt for idTag %s: %s", req.IdTag, status))

	return &AuthorizeResponse{IdTagInfo: IdTagInfo{Status: status}}, nil
}

// stationStatusFor maps a station-level (connector 0) OCPP status onto the
// directory's operational status.
func stationStatusFor(ocppStatus string) string {
	switch ocppStatus {
	case ConnectorStatusFaulted:
		return database.ChargePointStatusError
	case ConnectorStatusUnavailable:
		return database.ChargePointStatusMaintenance
	default:
		return database.ChargePointStatusOnline
	}
}

func (cs *CentralSystem) handleStatusNotification(chargePointID string, req *StatusNotificationRequest) (*StatusNotificationResponse, error) {
	if req.ConnectorID == 0 {
		// Connector 0 addresses the station itself.
		cp, err := cs.db.GetChargePoint(chargePointID)
		if err != nil {
			cs.log.WithField("chargePoint", chargePointID).
				Warnf("status notification for unknown charge point: %v", err)
			return &StatusNotificationResponse{}, nil
		}
		cp.Status = stationStatusFor(req.Status)
		if err := cs.db.SaveChargePoint(cp); err != nil {
			cs.log.WithField("chargePoint", chargePointID).Warnf("failed to update station status: %v", err)
		}
	} else {
		connector, err := cs.db.GetConnector(chargePointID, req.ConnectorID)
		if err != nil {
			connector = &database.Connector{
				ChargePointID: chargePointID,
				ConnectorID:   req.ConnectorID,
			}
		}
		connector.Status = req.Status
		connector.UpdatedAt = time.Now()
		if req.Status == ConnectorStatusFaulted {
			connector.ErrorCode = req.ErrorCode
			connector.Info = req.Info
			connector.VendorErrorCode = req.VendorErrorCode
		} else {
			connector.ErrorCode = ""
			connector.Info = ""
			connector.VendorErrorCode = ""
		}
		if err := cs.db.SaveConnector(connector); err != nil {
			cs.log.WithField("chargePoint", chargePointID).Warnf("failed to save connector status: %v", err)
		}
	}

	cs.publish("status.notification", chargePointID, map[string]interface{}{
		"connectorId": req.ConnectorID,
		"status":      req.Status,
		"errorCode":   req.ErrorCode,
	})

	return &StatusNotificationResponse{}, nil
}

// handleStartTransaction is the session state-machine core. A missing
// station record is a consistency bug (a live connection implies prior
// registration) and propagates as an error; every domain rejection is a
// success-shaped response with transactionId 0.
func (cs *CentralSystem) handleStartTransaction(chargePointID string, req *StartTransactionRequest) (*StartTransactionResponse, error) {
	if _, err := cs.db.GetChargePoint(chargePointID); err != nil {
		return nil, fmt.Errorf("charge point %s has no directory record: %w", chargePointID, err)
	}

	status := cs.classifyIdTag(req.IdTag)
	if status != AuthorizationAccepted {
		return &StartTransactionResponse{
			IdTagInfo:     IdTagInfo{Status: status},
			TransactionID: 0,
		}, nil
	}

	connector, err := cs.db.GetConnector(chargePointID, req.ConnectorID)
	if err != nil {
		return &StartTransactionResponse{
			IdTagInfo:     IdTagInfo{Status: AuthorizationInvalid},
			TransactionID: 0,
		}, nil
	}
	switch connector.Status {
	case ConnectorStatusFaulted, ConnectorStatusUnavailable, ConnectorStatusReserved:
		return &StartTransactionResponse{
			IdTagInfo:     IdTagInfo{Status: AuthorizationInvalid},
			TransactionID: 0,
		}, nil
	}

	// Zombie-session guard: a station that lost a StopTransaction after an
	// abrupt reset leaves its old session ACTIVE on the connector. Close it
	// before starting the new one.
	if active, err := cs.db.GetActiveSessionsForChargePoint(chargePointID); err == nil {
		for i := range active {
			if active[i].ConnectorID == req.ConnectorID {
				cs.closeZombieSession(&active[i])
			}
		}
	} else {
		cs.log.WithField("chargePoint", chargePointID).Warnf("zombie scan failed: %v", err)
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	session := &database.ChargingSession{
		ChargePointID:  chargePointID,
		ConnectorID:    req.ConnectorID,
		IdTag:          req.IdTag,
		StartTimestamp: timestamp,
		MeterStart:     req.MeterStart,
		Status:         database.SessionStatusActive,
	}
	if err := cs.db.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create charging session: %w", err)
	}

	// The transaction id is the session's own storage identity, assigned
	// after the row exists; it is therefore always > 0 and never reused.
	session.TransactionID = int(session.ID)
	if err := cs.db.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to assign transaction id: %w", err)
	}

	connector.Status = ConnectorStatusCharging
	connector.UpdatedAt = time.Now()
	if err := cs.db.SaveConnector(connector); err != nil {
		cs.log.WithField("chargePoint", chargePointID).Warnf("failed to update connector status: %v", err)
	}

	cs.logEvent(chargePointID, "INFO", "System",
		fmt.Sprintf("Transaction %d started on connector %d with idTag %s",
			session.TransactionID, req.ConnectorID, req.IdTag))
	cs.publish("start.transaction", chargePointID, map[string]interface{}{
		"transactionId": session.TransactionID,
		"connectorId":   req.ConnectorID,
		"idTag":         req.IdTag,
	})

	return &StartTransactionResponse{
		IdTagInfo:     IdTagInfo{Status: AuthorizationAccepted},
		TransactionID: session.TransactionID,
	}, nil
}

// closeZombieSession force-stops a session whose StopTransaction never
// arrived. The true final meter reading is unknown, so the start value
// stands in and the session settles at zero energy.
func (cs *CentralSystem) closeZombieSession(session *database.ChargingSession) {
	now := time.Now()
	meterStop := session.MeterStart
	energy := 0.0

	session.StopTimestamp = &now
	session.MeterStop = &meterStop
	session.EnergyKwh = &energy
	session.StopReason = StopReasonZombieAutoClosed
	session.Status = database.SessionStatusCompleted

	if err := cs.db.UpdateSession(session); err != nil {
		cs.log.WithField("chargePoint", session.ChargePointID).
			Errorf("failed to close zombie session %d: %v", session.TransactionID, err)
		return
	}

	cs.logEvent(session.ChargePointID, "WARNING", "System",
		fmt.Sprintf("Closed zombie session %d on connector %d", session.TransactionID, session.ConnectorID))
}

// handleStopTransaction is idempotent and never blocks a physical stop: a
// missing session and every internal error still produce a success-shaped
// response.
func (cs *CentralSystem) handleStopTransaction(chargePointID string, req *StopTransactionRequest) (*StopTransactionResponse, error) {
	resp := &StopTransactionResponse{}
	if req.IdTag != "" {
		resp.IdTagInfo = &IdTagInfo{Status: cs.classifyIdTag(req.IdTag)}
	}

	session, err := cs.db.GetActiveSessionByTransaction(chargePointID, req.TransactionID)
	if err != nil {
		// Already stopped, or a retry racing another stop path.
		if !database.IsNotFound(err) {
			cs.log.WithField("chargePoint", chargePointID).
				Warnf("stop transaction lookup failed for %d: %v", req.TransactionID, err)
		}
		return resp, nil
	}

	// Supplemental meter snapshots ride along in transactionData; persist
	// them before finalizing.
	for _, mv := range req.TransactionData {
		cs.persistMeterValue(chargePointID, session.ConnectorID, session.TransactionID, mv)
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	meterStop := req.MeterStop
	energy := float64(meterStop-session.MeterStart) / 1000.0

	session.StopTimestamp = &timestamp
	session.MeterStop = &meterStop
	session.EnergyKwh = &energy
	session.StopReason = req.Reason
	session.Status = database.SessionStatusCompleted

	if err := cs.db.UpdateSession(session); err != nil {
		cs.log.WithField("chargePoint", chargePointID).
			Errorf("failed to finalize session %d: %v", req.TransactionID, err)
		return resp, nil
	}

	if connector, err := cs.db.GetConnector(chargePointID, session.ConnectorID); err == nil {
		connector.Status = ConnectorStatusAvailable
		connector.UpdatedAt = time.Now()
		if err := cs.db.SaveConnector(connector); err != nil {
			cs.log.WithField("chargePoint", chargePointID).Warnf("failed to update connector status: %v", err)
		}
	}

	cs.logEvent(chargePointID, "INFO", "System",
		fmt.Sprintf("Transaction %d stopped, energy delivered %.3f kWh, reason %q",
			req.TransactionID, energy, req.Reason))
	cs.publish("stop.transaction", chargePointID, map[string]interface{}{
		"transactionId": req.TransactionID,
		"energyKwh":     energy,
	})

	return resp, nil
}

// handleMeterValues always succeeds with an empty payload; readings without
// a matching ACTIVE session are accepted and discarded.
func (cs *CentralSystem) handleMeterValues(chargePointID string, req *MeterValuesRequest) (*MeterValuesResponse, error) {
	if req.TransactionID == nil {
		return &MeterValuesResponse{}, nil
	}

	session, err := cs.db.GetActiveSessionByTransaction(chargePointID, *req.TransactionID)
	if err != nil {
		if !database.IsNotFound(err) {
			cs.log.WithField("chargePoint", chargePointID).
				Warnf("meter value session lookup failed for %d: %v", *req.TransactionID, err)
		}
		return &MeterValuesResponse{}, nil
	}

	for _, mv := range req.MeterValue {
		cs.persistMeterValue(chargePointID, req.ConnectorID, session.TransactionID, mv)
	}

	cs.publish("meter.values", chargePointID, map[string]interface{}{
		"transactionId": session.TransactionID,
		"connectorId":   req.ConnectorID,
	})

	return &MeterValuesResponse{}, nil
}

// persistMeterValue stores each sampled value of one timestamped group,
// best-effort.
func (cs *CentralSystem) persistMeterValue(chargePointID string, connectorID, transactionID int, mv MeterValue) {
	for _, sv := range mv.SampledValue {
		value, err := strconv.ParseFloat(sv.Value, 64)
		if err != nil {
			cs.log.WithField("chargePoint", chargePointID).
				Warnf("skipping unparseable sampled value %q: %v", sv.Value, err)
			continue
		}

		unit := sv.Unit
		if unit == "" {
			unit = defaultMeterUnit
		}
		measurand := sv.Measurand
		if measurand == "" {
			measurand = defaultMeterMeasurand
		}

		reading := &database.MeterReading{
			TransactionID: transactionID,
			ChargePointID: chargePointID,
			ConnectorID:   connectorID,
			Timestamp:     mv.Timestamp,
			Value:         value,
			Unit:          unit,
			Measurand:     measurand,
			Context:       sv.Context,
		}
		if err := cs.db.AddMeterReading(reading); err != nil {
			cs.log.WithField("chargePoint", chargePointID).
				Warnf("failed to save meter reading for transaction %d: %v", transactionID, err)
		}
	}
}

// handleReserveNow gates on connector status before creating the
// reservation; the reservation id is the storage-assigned identity.
func (cs *CentralSystem) handleReserveNow(chargePointID string, req *ReserveNowRequest) (*ReserveNowResponse, error) {
	connector, err := cs.db.GetConnector(chargePointID, req.ConnectorID)
	if err != nil {
		return &ReserveNowResponse{Status: ReservationRejected}, nil
	}

	switch connector.Status {
	case ConnectorStatusUnavailable:
		return &ReserveNowResponse{Status: ReservationUnavailable}, nil
	case ConnectorStatusFaulted:
		return &ReserveNowResponse{Status: ReservationFaulted}, nil
	case ConnectorStatusAvailable:
		// reservable
	default:
		return &ReserveNowResponse{Status: ReservationOccupied}, nil
	}

	connectorID := req.ConnectorID
	reservation := &database.Reservation{
		ChargePointID: chargePointID,
		ConnectorID:   &connectorID,
		IdTag:         req.IdTag,
		ExpiryDate:    req.ExpiryDate,
		Status:        database.ReservationStatusActive,
	}
	if err := cs.db.CreateReservation(reservation); err != nil {
		cs.log.WithField("chargePoint", chargePointID).Errorf("failed to create reservation: %v", err)
		return &ReserveNowResponse{Status: ReservationRejected}, nil
	}

	connector.Status = ConnectorStatusReserved
	connector.UpdatedAt = time.Now()
	if err := cs.db.SaveConnector(connector); err != nil {
		cs.log.WithField("chargePoint", chargePointID).Warnf("failed to mark connector reserved: %v", err)
	}

	cs.logEvent(chargePointID, "INFO", "System",
		fmt.Sprintf("Reservation %d created on connector %d for idTag %s",
			reservation.ID, req.ConnectorID, req.IdTag))

	return &ReserveNowResponse{
		Status:        ReservationAccepted,
		ReservationID: int(reservation.ID),
	}, nil
}

// handleCancelReservation requires an ACTIVE reservation for this station
// and id; anything else is Rejected.
func (cs *CentralSystem) handleCancelReservation(chargePointID string, req *CancelReservationRequest) (*CancelReservationResponse, error) {
	reservation, err := cs.db.GetActiveReservation(chargePointID, req.ReservationID)
	if err != nil {
		return &CancelReservationResponse{Status: ReservationRejected}, nil
	}

	reservation.Status = database.ReservationStatusCancelled
	if err := cs.db.SaveReservation(reservation); err != nil {
		cs.log.WithField("chargePoint", chargePointID).Errorf("failed to cancel reservation: %v", err)
		return &CancelReservationResponse{Status: ReservationRejected}, nil
	}

	if reservation.ConnectorID != nil {
		if connector, err := cs.db.GetConnector(chargePointID, *reservation.ConnectorID); err == nil &&
			connector.Status == ConnectorStatusReserved {
			connector.Status = ConnectorStatusAvailable
			connector.UpdatedAt = time.Now()
			if err := cs.db.SaveConnector(connector); err != nil {
				cs.log.WithField("chargePoint", chargePointID).Warnf("failed to release connector: %v", err)
			}
		}
	}

	cs.logEvent(chargePointID, "INFO", "System",
		fmt.Sprintf("Reservation %d cancelled", req.ReservationID))

	return &CancelReservationResponse{Status: ReservationAccepted}, nil
}
