package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/controller"
	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/metrics"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/reconcile"
)

const (
	statusSuccess = "success"
	statusRetry   = "retry"
	statusError   = "error"

	sensorWindow = 24 * time.Hour
)

type Server struct {
	ctrl    *controller.Controller
	origins []string
	// legacyNames keys /status by the first alias of each device instead of its name.
	legacyNames bool
}

type Option func(*Server)

// WithLegacyNames keys the status document by the Korean device names the dashboard expects.
func WithLegacyNames() Option {
	return func(s *Server) { s.legacyNames = true }
}

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ControlRequest struct {
	Device     string      `json:"device"`
	Action     string      `json:"action"`
	Percentage *Percentage `json:"percentage"`
}

type ControlResponse struct {
	Status string              `json:"status"`
	Result *controller.Outcome `json:"result,omitempty"`
}

type ResetResponse struct {
	Status  string               `json:"status"`
	Message string               `json:"message,omitempty"`
	Results []controller.Outcome `json:"results"`
}

type OperationModeRequest struct {
	Mode *int `json:"mode"`
}

type OperationModeResponse struct {
	Status string `json:"status,omitempty"`
	Mode   int    `json:"mode"`
}

type SensorDataResponse struct {
	Current map[string]float64   `json:"current"`
	Hourly  []model.HourlyBucket `json:"hourly"`
}

type DeviceStatusResponse struct {
	Device    string `json:"device"`
	OPID      uint16 `json:"opid"`
	State     string `json:"state"`
	RawState  uint16 `json:"raw_state"`
	Remaining int32  `json:"remaining_seconds"`
	Known     bool   `json:"known"`
}

// TimedStatus is how a timed device appears in the status document.
type TimedStatus struct {
	Value string           `json:"value"`
	Type  *model.Direction `json:"type"`
}

func NewServer(ctrl *controller.Controller, origins []string, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, origins: origins}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API wrapped in CORS handling. Every route is served at the
// root and again under /api.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.routes(r.PathPrefix("/api").Subrouter())
	s.routes(r)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

func (s *Server) routes(r *mux.Router) {
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/control", s.control).Methods(http.MethodPost)
	r.HandleFunc("/reset", s.reset).Methods(http.MethodPost)
	r.HandleFunc("/operation-mode", s.getOperationMode).Methods(http.MethodGet)
	r.HandleFunc("/operation-mode", s.setOperationMode).Methods(http.MethodPost)
	r.HandleFunc("/sensor-data", s.getSensorData).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", s.getDevice).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Starting REST API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down REST API server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	states, err := s.ctrl.Status(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read device status")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.statusDocument(states))
}

func (s *Server) statusDocument(states []controller.DeviceState) map[string]interface{} {
	doc := make(map[string]interface{}, len(states))
	for _, st := range states {
		key := st.Device.Name
		if s.legacyNames && len(st.Device.Aliases) > 0 {
			key = st.Device.Aliases[0]
		}
		if !st.Device.Timed() {
			doc[key] = st.On()
			continue
		}
		if !st.Known {
			doc[key] = TimedStatus{Value: "OFF"}
			continue
		}
		dir := st.Direction()
		doc[key] = TimedStatus{Value: FormatPercent(st.Value), Type: &dir}
	}
	return doc
}

func (s *Server) control(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload: "+err.Error())
		return
	}

	d, err := s.ctrl.Registry().Lookup(req.Device)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var percent float64
	if d.Timed() {
		if req.Percentage == nil || req.Percentage.Off {
			log.Debug().Str("device", d.Name).Msg("Control request without movement")
			s.writeJSON(w, http.StatusOK, ControlResponse{Status: statusSuccess})
			return
		}
		percent = req.Percentage.Value
	}

	out, err := s.ctrl.Control(r.Context(), d.Name, req.Action, percent)
	if err != nil {
		s.writeControlError(w, err)
		return
	}

	log.Info().Str("device", out.Device).Str("command", out.Command).Float64("target", out.Target).Msg("Device controlled via API")
	s.writeJSON(w, http.StatusOK, ControlResponse{Status: statusSuccess, Result: &out})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.ctrl.Reset(r.Context())
	if outcomes == nil {
		outcomes = []controller.Outcome{}
	}
	if err != nil {
		if errors.Is(err, controller.ErrBusy) {
			s.writeJSON(w, http.StatusAccepted, StatusResponse{Status: statusRetry, Message: err.Error()})
			return
		}
		log.Error().Err(err).Int("reset", len(outcomes)).Msg("Reset finished with failures")
		s.writeJSON(w, http.StatusInternalServerError, ResetResponse{Status: statusError, Message: err.Error(), Results: outcomes})
		return
	}
	s.writeJSON(w, http.StatusOK, ResetResponse{Status: statusSuccess, Message: "all devices reset", Results: outcomes})
}

func (s *Server) getOperationMode(w http.ResponseWriter, r *http.Request) {
	mode, err := s.ctrl.OperationMode(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read operation mode")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, OperationModeResponse{Mode: int(mode)})
}

func (s *Server) setOperationMode(w http.ResponseWriter, r *http.Request) {
	var req OperationModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload: "+err.Error())
		return
	}
	if req.Mode == nil {
		s.writeError(w, http.StatusBadRequest, "mode is required")
		return
	}

	if err := s.ctrl.SetOperationMode(r.Context(), model.OperationMode(*req.Mode)); err != nil {
		if errors.Is(err, controller.ErrInvalidMode) {
			s.writeError(w, http.StatusBadRequest, "Invalid operation mode. Valid modes: 0 (auto), 1 (manual)")
			return
		}
		log.Error().Err(err).Int("mode", *req.Mode).Msg("Failed to update operation mode")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, OperationModeResponse{Status: statusSuccess, Mode: *req.Mode})
}

func (s *Server) getSensorData(w http.ResponseWriter, r *http.Request) {
	current, hourly, err := s.ctrl.SensorData(r.Context(), sensorWindow)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read sensor data")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hourly == nil {
		hourly = []model.HourlyBucket{}
	}
	s.writeJSON(w, http.StatusOK, SensorDataResponse{Current: current, Hourly: hourly})
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	d, st, err := s.ctrl.LiveStatus(r.Context(), name)
	if err != nil {
		if errors.Is(err, device.ErrUnknownDevice) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Error().Err(err).Str("device", name).Msg("Failed to read live device status")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, DeviceStatusResponse{
		Device:    d.Name,
		OPID:      st.OPID,
		State:     st.State.String(),
		RawState:  st.RawState,
		Remaining: st.Remaining,
		Known:     st.Known(),
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrBusy):
		s.writeJSON(w, http.StatusAccepted, StatusResponse{Status: statusRetry, Message: err.Error()})
	case errors.Is(err, device.ErrUnknownDevice):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, reconcile.ErrOutOfRange), errors.Is(err, reconcile.ErrBadAction), errors.Is(err, reconcile.ErrNotTimed):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Control request failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, StatusResponse{Status: statusError, Message: message})
}
