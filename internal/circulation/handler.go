// internal/circulation/handler.go
package circulation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Handler struct {
	service  Service
	logger   *zap.Logger
	limiter  *rate.Limiter
	validate *validator.Validate
	health   func(ctx context.Context) error
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithRateLimit throttles movement submissions. A nil limiter disables it.
func WithRateLimit(l *rate.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// WithHealthCheck makes /healthz report the result of check.
func WithHealthCheck(check func(ctx context.Context) error) HandlerOption {
	return func(h *Handler) { h.health = check }
}

func NewHandler(service Service, logger *zap.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		service:  service,
		logger:   logger.Named("http"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts every endpoint on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.throttle).Post("/movements", h.HandleProcess)
	r.Route("/devices/{deviceID}", func(r chi.Router) {
		r.Get("/", h.HandleDevice)
		r.Get("/status", h.HandleStatus)
	})
	r.Get("/operators/{operatorID}", h.HandleOperator)
	r.Get("/defects", h.HandleDefects)
	r.Get("/totals", h.HandleTotals)
	r.Get("/healthz", h.HandleHealth)

	return r
}

type processRequest struct {
	Action           string   `json:"action" validate:"required,max=64"`
	DeviceID         string   `json:"device_id" validate:"max=64"`
	OperatorID       string   `json:"operator_id" validate:"max=64"`
	TestPerformed    bool     `json:"test_performed"`
	DefectDetected   bool     `json:"defect_detected"`
	FlagForRepair    bool     `json:"flag_for_repair"`
	Note             string   `json:"note" validate:"max=1000"`
	ResponsibleParty string   `json:"responsible_party" validate:"max=128"`
	RepairSentDate   string   `json:"repair_sent_date" validate:"omitempty,datetime=2006-01-02"`
	RepairReturnDate string   `json:"repair_return_date" validate:"omitempty,datetime=2006-01-02"`
	TicketNumber     string   `json:"ticket_number" validate:"max=64"`
	Defects          []string `json:"defects" validate:"dive,max=256"`
}

type processResponse struct {
	OK           bool          `json:"ok"`
	Message      string        `json:"message"`
	Code         RejectionCode `json:"code,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, processResponse{Message: "malformed request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, processResponse{Message: err.Error()})
		return
	}

	conf, err := h.service.Process(r.Context(), Request{
		Action:           req.Action,
		DeviceID:         req.DeviceID,
		OperatorID:       req.OperatorID,
		TestPerformed:    req.TestPerformed,
		DefectDetected:   req.DefectDetected,
		FlagForRepair:    req.FlagForRepair,
		Note:             req.Note,
		ResponsibleParty: req.ResponsibleParty,
		RepairSentDate:   req.RepairSentDate,
		RepairReturnDate: req.RepairReturnDate,
		TicketNumber:     req.TicketNumber,
		Defects:          req.Defects,
	})
	ok, message := Outcome(conf, err)
	if err != nil {
		if rej, isRejection := AsRejection(err); isRejection {
			writeJSON(w, http.StatusUnprocessableEntity, processResponse{Message: message, Code: rej.Code})
			return
		}
		h.logger.Error("movement not recorded", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, processResponse{Message: message})
		return
	}

	writeJSON(w, http.StatusCreated, processResponse{OK: ok, Message: message, Confirmation: &conf})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.ResolveStatus(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) HandleDevice(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.DescribeDevice(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) HandleOperator(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.DescribeOperator(r.Context(), chi.URLParam(r, "operatorID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) HandleDefects(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.service.DefectCodes(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	type entry struct {
		DefectCode
		Display string `json:"display"`
	}
	entries := make([]entry, 0, len(catalog))
	for _, c := range catalog {
		entries = append(entries, entry{DefectCode: c, Display: c.Display()})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.Totals(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, processResponse{Message: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if rej, ok := AsRejection(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, processResponse{Message: rej.Reason, Code: rej.Code})
		return
	}
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, processResponse{Message: err.Error()})
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusServiceUnavailable, processResponse{Message: "service unavailable, try again"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
