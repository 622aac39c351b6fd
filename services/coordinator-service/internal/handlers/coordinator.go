package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/blacklist"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/lifecycle"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/slots"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/storage"
)

// Lifecycle is the mutation surface the handlers drive. Satisfied by
// *lifecycle.Service.
type Lifecycle interface {
	Submit(ctx context.Context, in lifecycle.SubmitInput) (model.Appointment, error)
	Assign(ctx context.Context, appointmentID, specialistID int64, at time.Time) (model.Appointment, error)
	Reassign(ctx context.Context, appointmentID, newSpecialistID int64) (model.Appointment, error)
	Cancel(ctx context.Context, appointmentID int64, reason string) (model.Appointment, error)
	Complete(ctx context.Context, appointmentID, specialistID int64) (model.Appointment, error)
	ConfirmReady(ctx context.Context, appointmentID int64, party model.Party) (model.Appointment, error)
	RateClient(ctx context.Context, appointmentID int64, stars int) error
}

type CoordinatorHandler struct {
	svc         Lifecycle
	appts       *storage.AppointmentRepository
	specialists *storage.SpecialistRepository
	blocks      *storage.BlacklistRepository
	ledger      *storage.Ledger
	cache       *blacklist.Cache
	allocator   *slots.Allocator
	logger      *slog.Logger
}

type Deps struct {
	Service      Lifecycle
	Appointments *storage.AppointmentRepository
	Specialists  *storage.SpecialistRepository
	Blacklist    *storage.BlacklistRepository
	Ledger       *storage.Ledger
	Cache        *blacklist.Cache
	Allocator    *slots.Allocator
	Logger       *slog.Logger
}

func NewCoordinatorHandler(d Deps) *CoordinatorHandler {
	return &CoordinatorHandler{
		svc:         d.Service,
		appts:       d.Appointments,
		specialists: d.Specialists,
		blocks:      d.Blacklist,
		ledger:      d.Ledger,
		cache:       d.Cache,
		allocator:   d.Allocator,
		logger:      d.Logger,
	}
}

// Register mounts every route on mux.
func (h *CoordinatorHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/appointments", h.Appointments)
	mux.HandleFunc("/api/v1/appointments/detail", h.Detail)
	mux.HandleFunc("/api/v1/appointments/assign", h.Assign)
	mux.HandleFunc("/api/v1/appointments/reassign", h.Reassign)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/complete", h.Complete)
	mux.HandleFunc("/api/v1/appointments/ready", h.Ready)
	mux.HandleFunc("/api/v1/appointments/rate", h.Rate)
	mux.HandleFunc("/api/v1/slots", h.Slots)
	mux.HandleFunc("/api/v1/specialists", h.Specialists)
	mux.HandleFunc("/api/v1/blacklist", h.Blacklist)
}

type appointmentResponse struct {
	ID              int64  `json:"id"`
	ClientID        int64  `json:"client_id"`
	SpecialistID    *int64 `json:"specialist_id,omitempty"`
	ProposedDate    string `json:"proposed_date"`
	ScheduledTime   string `json:"scheduled_time,omitempty"`
	Status          string `json:"status"`
	ClientReady     bool   `json:"client_ready"`
	SpecialistReady bool   `json:"specialist_ready"`
	Complex         string `json:"complex,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RejectReason    string `json:"reject_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:              a.ID,
		ClientID:        a.ClientID,
		SpecialistID:    a.SpecialistID,
		ProposedDate:    a.ProposedDate.UTC().Format(time.RFC3339),
		Status:          string(a.Status),
		ClientReady:     a.ClientReady,
		SpecialistReady: a.SpecialistReady,
		Complex:         a.Complex,
		Reason:          a.Reason,
		RejectReason:    a.RejectReason,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.ScheduledTime != nil {
		resp.ScheduledTime = a.ScheduledTime.UTC().Format(time.RFC3339)
	}
	return resp
}

// writeDomainError maps the sentinel errors onto HTTP statuses. Anything
// unrecognized is a persistence fault and stays opaque to the caller.
func (h *CoordinatorHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, model.ErrSlotConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrDuplicateFire):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, model.ErrOutsideHours):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, model.ErrBlacklisted):
		http.Error(w, "client is blacklisted", http.StatusForbidden)
	default:
		h.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Appointments serves POST (submit) and GET (list with filters).
func (h *CoordinatorHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submit(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type submitRequest struct {
	ClientID     int64  `json:"client_id"`
	ProposedDate string `json:"proposed_date"`
	Complex      string `json:"complex"`
	Reason       string `json:"reason"`
}

func (h *CoordinatorHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ClientID == 0 || req.Reason == "" {
		http.Error(w, "client_id and reason required", http.StatusBadRequest)
		return
	}
	proposed, err := time.Parse(time.RFC3339, req.ProposedDate)
	if err != nil {
		http.Error(w, "invalid proposed_date", http.StatusBadRequest)
		return
	}

	a, err := h.svc.Submit(r.Context(), lifecycle.SubmitInput{
		ClientID:     req.ClientID,
		ProposedDate: proposed,
		Complex:      strings.TrimSpace(req.Complex),
		Reason:       req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(a))
}

func (h *CoordinatorHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.Filter{
		Status:       model.Status(strings.TrimSpace(q.Get("status"))),
		SpecialistID: parseInt64(q.Get("specialist_id")),
		ClientID:     parseInt64(q.Get("client_id")),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			f.Limit = n
		}
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.From = t
		}
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.To = t
		}
	}

	appts, err := h.appts.List(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, items)
}

type detailResponse struct {
	Appointment   appointmentResponse  `json:"appointment"`
	Client        clientResponse       `json:"client"`
	Specialist    *specialistResponse  `json:"specialist,omitempty"`
	Notifications []notificationRecord `json:"notifications"`
}

type clientResponse struct {
	ID          int64  `json:"id"`
	FullName    string `json:"full_name"`
	Phone       string `json:"phone,omitempty"`
	City        string `json:"city,omitempty"`
	Rating      int    `json:"rating"`
	RatingCount int    `json:"rating_count"`
}

type specialistResponse struct {
	ID          int64  `json:"id"`
	FullName    string `json:"full_name"`
	Username    string `json:"username,omitempty"`
	Phone       string `json:"phone,omitempty"`
	IsAvailable bool   `json:"is_available"`
	Completed   int    `json:"completed_appointments"`
	Rank        string `json:"rank"`
}

type notificationRecord struct {
	Kind   string `json:"kind"`
	SentAt string `json:"sent_at"`
}

func (h *CoordinatorHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := parseInt64(r.URL.Query().Get("id"))
	if id == 0 {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	d, err := h.appts.GetDetail(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	records, err := h.ledger.ListForAppointment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := detailResponse{
		Appointment: toAppointmentResponse(d.Appointment),
		Client: clientResponse{
			ID:          d.Client.ID,
			FullName:    d.Client.FullName,
			Phone:       d.Client.Phone,
			City:        d.Client.City,
			Rating:      d.Client.Rating,
			RatingCount: d.Client.RatingCount,
		},
		Notifications: make([]notificationRecord, 0, len(records)),
	}
	if d.Specialist != nil {
		resp.Specialist = &specialistResponse{
			ID:          d.Specialist.ID,
			FullName:    d.Specialist.FullName,
			Username:    d.Specialist.Username,
			Phone:       d.Specialist.Phone,
			IsAvailable: d.Specialist.IsAvailable,
			Completed:   d.Specialist.CompletedAppointments,
			Rank:        d.Specialist.Rank,
		}
	}
	for _, rec := range records {
		resp.Notifications = append(resp.Notifications, notificationRecord{
			Kind:   rec.Kind,
			SentAt: rec.SentAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type assignRequest struct {
	AppointmentID int64  `json:"appointment_id"`
	SpecialistID  int64  `json:"specialist_id"`
	ScheduledTime string `json:"scheduled_time"`
}

func (h *CoordinatorHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == 0 || req.SpecialistID == 0 {
		http.Error(w, "appointment_id and specialist_id required", http.StatusBadRequest)
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledTime)
	if err != nil {
		http.Error(w, "invalid scheduled_time", http.StatusBadRequest)
		return
	}

	a, err := h.svc.Assign(r.Context(), req.AppointmentID, req.SpecialistID, at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

type reassignRequest struct {
	AppointmentID int64 `json:"appointment_id"`
	SpecialistID  int64 `json:"specialist_id"`
}

func (h *CoordinatorHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == 0 || req.SpecialistID == 0 {
		http.Error(w, "appointment_id and specialist_id required", http.StatusBadRequest)
		return
	}

	a, err := h.svc.Reassign(r.Context(), req.AppointmentID, req.SpecialistID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

type cancelRequest struct {
	AppointmentID int64  `json:"appointment_id"`
	Reason        string `json:"reason"`
}

func (h *CoordinatorHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.AppointmentID == 0 || req.Reason == "" {
		http.Error(w, "appointment_id and reason required", http.StatusBadRequest)
		return
	}

	a, err := h.svc.Cancel(r.Context(), req.AppointmentID, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

type completeRequest struct {
	AppointmentID int64 `json:"appointment_id"`
	SpecialistID  int64 `json:"specialist_id"`
}

func (h *CoordinatorHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == 0 || req.SpecialistID == 0 {
		http.Error(w, "appointment_id and specialist_id required", http.StatusBadRequest)
		return
	}

	a, err := h.svc.Complete(r.Context(), req.AppointmentID, req.SpecialistID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

type readyRequest struct {
	AppointmentID int64  `json:"appointment_id"`
	Party         string `json:"party"`
}

func (h *CoordinatorHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req readyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	party := model.Party(strings.TrimSpace(req.Party))
	if req.AppointmentID == 0 || (party != model.PartyClient && party != model.PartySpecialist) {
		http.Error(w, "appointment_id and party (client|specialist) required", http.StatusBadRequest)
		return
	}

	a, err := h.svc.ConfirmReady(r.Context(), req.AppointmentID, party)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

type rateRequest struct {
	AppointmentID int64 `json:"appointment_id"`
	Stars         int   `json:"stars"`
}

func (h *CoordinatorHandler) Rate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == 0 {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	if err := h.svc.RateClient(r.Context(), req.AppointmentID, req.Stars); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type slotResponse struct {
	Start         string `json:"start"`
	Taken         bool   `json:"taken"`
	AppointmentID int64  `json:"appointment_id,omitempty"`
}

// Slots renders a specialist's board for one day: every grid slot with its
// occupancy.
func (h *CoordinatorHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	specialistID := parseInt64(q.Get("specialist_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if specialistID == 0 || dateStr == "" {
		http.Error(w, "specialist_id and date required", http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, h.allocator.Location())
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	appts, err := h.appts.List(r.Context(), storage.Filter{
		Status:       model.StatusApproved,
		SpecialistID: specialistID,
		Limit:        500,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	board := h.allocator.Board(day, appts)
	items := make([]slotResponse, 0, len(board))
	for _, s := range board {
		items = append(items, slotResponse{
			Start:         s.Start.Format(time.RFC3339),
			Taken:         s.Taken,
			AppointmentID: s.AppointmentID,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *CoordinatorHandler) Specialists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	specs, err := h.specialists.ListAvailable(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	items := make([]specialistResponse, 0, len(specs))
	for _, s := range specs {
		items = append(items, specialistResponse{
			ID:          s.ID,
			FullName:    s.FullName,
			Username:    s.Username,
			Phone:       s.Phone,
			IsAvailable: s.IsAvailable,
			Completed:   s.CompletedAppointments,
			Rank:        s.Rank,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type blacklistItem struct {
	ChatID       int64  `json:"chat_id"`
	Reason       string `json:"reason"`
	BlockedUntil string `json:"blocked_until"`
}

type blockRequest struct {
	ChatID       int64  `json:"chat_id"`
	Reason       string `json:"reason"`
	BlockedUntil string `json:"blocked_until"`
}

// Blacklist serves GET (active entries), POST (manual block) and DELETE
// (early unblock).
func (h *CoordinatorHandler) Blacklist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listBlocked(w, r)
	case http.MethodPost:
		h.block(w, r)
	case http.MethodDelete:
		h.unblock(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CoordinatorHandler) listBlocked(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blocks.ListActive(r.Context(), time.Now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	items := make([]blacklistItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, blacklistItem{
			ChatID:       e.ChatID,
			Reason:       e.Reason,
			BlockedUntil: e.BlockedUntil.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *CoordinatorHandler) block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ChatID == 0 || req.Reason == "" {
		http.Error(w, "chat_id and reason required", http.StatusBadRequest)
		return
	}
	until, err := time.Parse(time.RFC3339, req.BlockedUntil)
	if err != nil || !until.After(time.Now()) {
		http.Error(w, "blocked_until must be a future RFC3339 time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.appts.Begin(ctx)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry := model.BlacklistEntry{ChatID: req.ChatID, Reason: req.Reason, BlockedUntil: until}
	if err := h.blocks.Add(ctx, tx, entry); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.writeDomainError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Block(ctx, req.ChatID, until); err != nil {
			h.logger.Warn("blacklist cache update failed", "err", err, "chat_id", req.ChatID)
		}
	}
	writeJSON(w, http.StatusCreated, blacklistItem{
		ChatID:       entry.ChatID,
		Reason:       entry.Reason,
		BlockedUntil: entry.BlockedUntil.UTC().Format(time.RFC3339),
	})
}

func (h *CoordinatorHandler) unblock(w http.ResponseWriter, r *http.Request) {
	chatID := parseInt64(r.URL.Query().Get("chat_id"))
	if chatID == 0 {
		http.Error(w, "chat_id required", http.StatusBadRequest)
		return
	}

	if err := h.blocks.Remove(r.Context(), chatID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Unblock(r.Context(), chatID); err != nil {
			h.logger.Warn("blacklist cache removal failed", "err", err, "chat_id", chatID)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseInt64(raw string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return n
}
