package ocppserver

import (
	"sync"
)

// VendorHandler handles DataTransfer requests for one vendor id.
type VendorHandler interface {
	VendorID() string
	Handle(chargePointID string, req *DataTransferRequest) *DataTransferResponse
}

// VendorRouter sub-dispatches DataTransfer by vendor id. Vendors without a
// registered handler fall through to a generic accept-and-ignore handler,
// so unknown vendor payloads never fail the station.
type VendorRouter struct {
	mu       sync.RWMutex
	handlers map[string]VendorHandler
	generic  VendorHandler
}

// NewVendorRouter creates a router with the generic fallback installed.
func NewVendorRouter() *VendorRouter {
	return &VendorRouter{
		handlers: make(map[string]VendorHandler),
		generic:  genericVendorHandler{},
	}
}

// Register installs a vendor handler under its own vendor id.
func (r *VendorRouter) Register(handler VendorHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handler.VendorID()] = handler
}

// Dispatch routes a DataTransfer request to the vendor's handler.
func (r *VendorRouter) Dispatch(chargePointID string, req *DataTransferRequest) *DataTransferResponse {
	r.mu.RLock()
	handler, ok := r.handlers[req.VendorID]
	r.mu.RUnlock()
	if !ok {
		handler = r.generic
	}
	return handler.Handle(chargePointID, req)
}

// genericVendorHandler accepts and ignores whatever it is given.
type genericVendorHandler struct{}

func (genericVendorHandler) VendorID() string { return "" }

func (genericVendorHandler) Handle(string, *DataTransferRequest) *DataTransferResponse {
	return &DataTransferResponse{Status: DataTransferAccepted}
}
