package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/worldland/miner-fleet/internal/domain"
	"github.com/worldland/miner-fleet/internal/schedule"
	"github.com/worldland/miner-fleet/internal/services"
)

// AddDeviceRequest is the JSON body for POST /devices
type AddDeviceRequest struct {
	Address string `json:"address"`
}

// DeviceResponse is returned by add and remove
type DeviceResponse struct {
	Address string `json:"address"`
	Outcome string `json:"outcome"`
	Warning string `json:"warning,omitempty"` // initialisation error on an accepted add
}

// DeviceListResponse is returned by GET /devices
type DeviceListResponse struct {
	Devices []domain.DeviceStatus `json:"devices"`
	Window  string                `json:"window"`
}

// SyncResult is one miner's result in a POST /devices/sync response
type SyncResult struct {
	Address string `json:"address"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse for error cases
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// FleetControllerInterface defines operations needed from the fleet controller
type FleetControllerInterface interface {
	AddDevice(ctx context.Context, address string) (services.AddOutcome, error)
	RemoveDevice(ctx context.Context, address string) (services.RemoveOutcome, error)
	ListDevices() []domain.DeviceStatus
	Resync(ctx context.Context) []schedule.Outcome
}

// WindowSource reports the window in force now
type WindowSource interface {
	Current() schedule.Window
}

// DeviceHandler handles HTTP requests for fleet membership
type DeviceHandler struct {
	controller FleetControllerInterface
	windows    WindowSource
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(controller FleetControllerInterface, windows WindowSource) *DeviceHandler {
	return &DeviceHandler{
		controller: controller,
		windows:    windows,
	}
}

// Register mounts the handler's routes on mux
func (h *DeviceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/devices", h.HandleDevices)
	mux.HandleFunc("/devices/sync", h.HandleSync)
	mux.HandleFunc("/health", h.HandleHealth)
}

// HandleDevices dispatches /devices by method
func (h *DeviceHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.HandleListDevices(w, r)
	case http.MethodPost:
		h.HandleAddDevice(w, r)
	case http.MethodDelete:
		h.HandleRemoveDevice(w, r)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	}
}

// HandleAddDevice handles POST /devices
func (h *DeviceHandler) HandleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req AddDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}

	address := strings.TrimSpace(req.Address)
	if address == "" {
		h.writeError(w, http.StatusBadRequest, "address is required", "MISSING_ADDRESS")
		return
	}

	outcome, err := h.controller.AddDevice(r.Context(), address)
	switch outcome {
	case services.AddInvalidAddress:
		h.writeError(w, http.StatusBadRequest, "not an IP address: "+address, "INVALID_ADDRESS")
		return
	case services.AddDuplicate:
		h.writeError(w, http.StatusConflict, "device already in fleet", "DUPLICATE_DEVICE")
		return
	}

	resp := DeviceResponse{Address: address, Outcome: string(outcome)}
	if err != nil {
		resp.Warning = err.Error()
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// HandleRemoveDevice handles DELETE /devices?address=xxx
func (h *DeviceHandler) HandleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		h.writeError(w, http.StatusBadRequest, "address query param required", "MISSING_ADDRESS")
		return
	}

	outcome, err := h.controller.RemoveDevice(r.Context(), address)
	switch outcome {
	case services.RemoveNotFound:
		h.writeError(w, http.StatusNotFound, "device not in fleet", "DEVICE_NOT_FOUND")
		return
	case services.RemoveLogoutFailed:
		msg := "logout failed, device kept"
		if err != nil {
			msg = err.Error()
		}
		h.writeError(w, http.StatusBadGateway, msg, "LOGOUT_FAILED")
		return
	}

	h.writeJSON(w, http.StatusOK, DeviceResponse{Address: address, Outcome: string(outcome)})
}

// HandleListDevices handles GET /devices
func (h *DeviceHandler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	resp := DeviceListResponse{
		Devices: h.controller.ListDevices(),
		Window:  h.windows.Current().String(),
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleSync handles POST /devices/sync
func (h *DeviceHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	outcomes := h.controller.Resync(r.Context())
	results := make([]SyncResult, 0, len(outcomes))
	for _, o := range outcomes {
		res := SyncResult{Address: o.Address, OK: o.Err == nil}
		if o.Err != nil {
			res.Error = o.Err.Error()
		}
		results = append(results, res)
	}
	h.writeJSON(w, http.StatusOK, results)
}

// HandleHealth handles GET /health
func (h *DeviceHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// writeJSON writes a JSON response
func (h *DeviceHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *DeviceHandler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
