package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/kneadly/internal/auth"
	"github.com/example/kneadly/internal/booking/domain"
	"github.com/example/kneadly/internal/booking/schedule"
	"github.com/example/kneadly/internal/booking/service"
)

// HTTP exposes the booking lifecycle endpoints. Every route requires a valid
// token; the handler resolves the actor from claims and leaves authorization
// decisions to the service layer.
type HTTP struct {
	svc           *service.Service
	checker       *schedule.Checker
	notifications domain.NotificationStore
	jwtSecret     string
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service, checker *schedule.Checker, notifications domain.NotificationStore, jwtSecret string) *HTTP {
	return &HTTP{svc: svc, checker: checker, notifications: notifications, jwtSecret: jwtSecret}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.jwtSecret))

		r.Post("/v1/bookings", h.createBooking)
		r.Get("/v1/bookings", h.listBookings)
		r.Get("/v1/bookings/{id}", h.getBooking)
		r.Post("/v1/bookings/{id}/accept", h.acceptBooking)
		r.Post("/v1/bookings/{id}/reject", h.rejectBooking)
		r.Post("/v1/bookings/{id}/cancel", h.cancelBooking)
		r.Patch("/v1/bookings/{id}/status", h.advanceBooking)
		r.Post("/v1/bookings/{id}/location", h.updateLocation)
		r.Get("/v1/bookings/{id}/location", h.getLocation)
		r.Post("/v1/bookings/{id}/messages", h.sendMessage)

		r.Get("/v1/blocked-dates", h.listBlockedDates)
		r.Post("/v1/blocked-dates", h.blockDate)
		r.Delete("/v1/blocked-dates/{id}", h.unblockDate)

		r.Get("/v1/notifications", h.listNotifications)
		r.Post("/v1/notifications/{id}/read", h.markNotificationRead)
		r.Post("/v1/notifications/read-all", h.markAllNotificationsRead)
	})
	return r
}

type createBookingRequest struct {
	ProviderID  string          `json:"provider_id"`
	ServiceID   string          `json:"service_id"`
	DurationMin int             `json:"duration_min"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	AddressText string          `json:"address_text"`
	Location    domain.GeoPoint `json:"location"`
	Notes       string          `json:"notes"`
}

func (h *HTTP) createBooking(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(w, r)
	if !ok {
		return
	}
	var payload createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	providerID, err := uuid.Parse(payload.ProviderID)
	if err != nil {
		http.Error(w, "invalid provider_id", http.StatusBadRequest)
		return
	}
	serviceID, err := uuid.Parse(payload.ServiceID)
	if err != nil {
		http.Error(w, "invalid service_id", http.StatusBadRequest)
		return
	}

	b, err := h.svc.CreateBooking(r.Context(), service.CreateBookingRequest{
		CustomerID:  actorID,
		ProviderID:  providerID,
		ServiceID:   serviceID,
		DurationMin: payload.DurationMin,
		ScheduledAt: payload.ScheduledAt,
		AddressText: payload.AddressText,
		Location:    payload.Location,
		Notes:       payload.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse(b))
}

func (h *HTTP) listBookings(w http.ResponseWriter, r *http.Request) {
	claims, actorID, ok := claimsFromContext(w, r)
	if !ok {
		return
	}
	limit := parseQueryInt(r, "limit", 20)
	offset := parseQueryInt(r, "offset", 0)
	bookings, err := h.svc.ListBookings(r.Context(), actorID, claims.ActorRole(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, bookingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	actorID, bookingID, ok := actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.GetBooking(r.Context(), bookingID, actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *HTTP) acceptBooking(w http.ResponseWriter, r *http.Request) {
	actorID, bookingID, ok := actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Accept(r.Context(), bookingID, actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *HTTP) rejectBooking(w http.ResponseWriter, r *http.Request) {
	actorID, bookingID, ok := actorAndID(w, r)
	if !ok {
		return
	}
	var payload reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.svc.Reject(r.Context(), bookingID, actorID, payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *HTTP) cancelBooking(w http.ResponseWriter, r *http.Request) {
	actorID, bookingID, ok := actorAndID(w, r)
	if !ok {
		return
	}
	var payload reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.svc.Cancel(r.Context(), bookingID, actorID, payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *HTTP) advanceBooking(w http.ResponseWriter, r *http.Request) {
	actorID, bookingID, ok := actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Advance(r.Context(), bookingID, actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *HTTP) updateLocation(w http.ResponseWriter, r *http.Request) {
	actorID, bookingID, ok := actorAndID(w, r)
	if !ok {
		return
	}
	var payload domain.GeoPoint
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, err := h.svc.UpdateLocation(r.Context(), bookingID, actorID, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}

func (h *HTTP) getLocation(w http.ResponseWriter, r *http.Request) {
	actorID, bookingID, ok := actorAndID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.BookingLocation(r.Context(), bookingID, actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}

func (h *HTTP) sendMessage(w http.ResponseWriter, r *http.Request) {
	actorID, bookingID, ok := actorAndID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := h.svc.SendChatMessage(r.Context(), bookingID, actorID, payload.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *HTTP) listBlockedDates(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(w, r)
	if !ok {
		return
	}
	dates, err := h.checker.Upcoming(r.Context(), actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": dates})
}

func (h *HTTP) blockDate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(w, r)
	if !ok {
		return
	}
	var payload struct {
		Date   string `json:"date"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	date, err := time.Parse("2006-01-02", payload.Date)
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	blocked, err := h.checker.Block(r.Context(), actorID, date, payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, blocked)
}

func (h *HTTP) unblockDate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.checker.Unblock(r.Context(), actorID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) listNotifications(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(w, r)
	if !ok {
		return
	}
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	limit := parseQueryInt(r, "limit", 20)
	records, err := h.notifications.ListNotifications(r.Context(), actorID, unreadOnly, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

func (h *HTTP) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.notifications.MarkNotificationRead(r.Context(), actorID, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromContext(w, r)
	if !ok {
		return
	}
	if err := h.notifications.MarkAllNotificationsRead(r.Context(), actorID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func claimsFromContext(w http.ResponseWriter, r *http.Request) (*auth.Claims, uuid.UUID, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "missing claims", http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	actorID, err := claims.ActorID()
	if err != nil {
		http.Error(w, "invalid subject", http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	return claims, actorID, true
}

func actorFromContext(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	_, actorID, ok := claimsFromContext(w, r)
	return actorID, ok
}

func actorAndID(w http.ResponseWriter, r *http.Request) (actorID, bookingID uuid.UUID, ok bool) {
	actorID, ok = actorFromContext(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, bookingID, true
}

func bookingResponse(b domain.Booking) map[string]any {
	resp := map[string]any{
		"id":           b.ID.String(),
		"number":       b.Number,
		"customer_id":  b.CustomerID.String(),
		"provider_id":  b.ProviderID.String(),
		"service_id":   b.ServiceID.String(),
		"duration_min": b.DurationMin,
		"amount_cents": b.AmountCents,
		"scheduled_at": b.ScheduledAt.UTC(),
		"address_text": b.AddressText,
		"location":     b.Location,
		"notes":        b.Notes,
		"status":       string(b.Status),
		"created_at":   b.CreatedAt.UTC(),
	}
	if b.Reason != "" {
		resp["reason"] = b.Reason
	}
	if b.CancelledBy != "" {
		resp["cancelled_by"] = string(b.CancelledBy)
	}
	return resp
}

func snapshotResponse(snap domain.LocationSnapshot) map[string]any {
	return map[string]any{
		"lat":         snap.Point.Lat,
		"lng":         snap.Point.Lng,
		"eta_minutes": snap.ETAMinutes,
		"updated_at":  snap.UpdatedAt.UTC(),
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses. Conflict
// responses carry machine-readable reason and current status fields so
// clients can reconcile without refetching.
func writeError(w http.ResponseWriter, err error) {
	var transitionErr *domain.TransitionError
	if errors.As(err, &transitionErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            transitionErr.Error(),
			"reason":           "invalid_transition",
			"current_status":   string(transitionErr.Current),
			"requested_status": string(transitionErr.Requested),
		})
		return
	}
	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		body := map[string]any{
			"error":  conflictErr.Error(),
			"reason": string(conflictErr.Reason),
		}
		if conflictErr.Current != "" {
			body["current_status"] = string(conflictErr.Current)
		}
		writeJSON(w, http.StatusConflict, body)
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrServiceNotOffered):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// parseQueryInt treats absent, malformed and non-positive values as the
// fallback, so ?limit=0 never turns into a LIMIT 0 query downstream.
func parseQueryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
