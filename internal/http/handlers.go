package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/notify"
)

// driverHeader carries the authenticated driver id, set by the upstream
// gateway. Session issuance and verification live outside this service.
const driverHeader = "X-Driver-ID"

type Server struct {
	Core   *booking.Service
	WSReg  *notify.WSRegistry
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(core *booking.Service, wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{Core: core, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/bookings", s.handleCreate).Methods("POST")
	api.HandleFunc("/bookings/available", s.handleAvailable).Methods("GET")
	api.HandleFunc("/bookings/live", s.handleLive).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/bookings", s.handleAssigned).Methods("GET")

	api.HandleFunc("/bookings/{id}/accept", s.driverAction(s.Core.Accept)).Methods("POST")
	api.HandleFunc("/bookings/{id}/reject", s.handleReject).Methods("POST")
	api.HandleFunc("/bookings/{id}/start", s.driverAction(s.Core.Start)).Methods("POST")
	api.HandleFunc("/bookings/{id}/pickup", s.driverAction(s.Core.Pickup)).Methods("POST")
	api.HandleFunc("/bookings/{id}/dropoff", s.driverAction(s.Core.Dropoff)).Methods("POST")
	api.HandleFunc("/bookings/{id}/complete", s.driverAction(s.Core.Complete)).Methods("POST")

	api.HandleFunc("/bookings/{id}/assign", s.handleAssign).Methods("POST")
	api.HandleFunc("/bookings/{id}/unassign", s.handleUnassign).Methods("POST")
	api.HandleFunc("/bookings/{id}", s.handleDelete).Methods("DELETE")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRequest struct {
	ActualPrice    json.Number `json:"actual_price"`
	Category       string      `json:"category"`
	RiderID        string      `json:"rider_id"`
	PickupAddress  string      `json:"pickup_address"`
	DropoffAddress string      `json:"dropoff_address"`
	PaymentRef     string      `json:"payment_ref"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// The price arrives as string or number; either way it is parsed once here.
	price, err := req.ActualPrice.Float64()
	if err != nil {
		http.Error(w, "invalid actual_price", http.StatusBadRequest)
		return
	}
	b, err := s.Core.Create(r.Context(), booking.CreateRequest{
		ActualPrice:    price,
		Category:       req.Category,
		RiderID:        req.RiderID,
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		PaymentRef:     req.PaymentRef,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	list, err := s.Core.AvailableBookings(r.Context(), r.URL.Query().Get("driver_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	list, err := s.Core.LiveBookings(r.Context(), r.URL.Query().Get("driver_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAssigned(w http.ResponseWriter, r *http.Request) {
	list, err := s.Core.AssignedBookings(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// driverAction adapts the transition methods sharing the
// (ctx, bookingID, driverID) shape into handlers.
func (s *Server) driverAction(op func(ctx context.Context, bookingID, driverID string) (*models.Booking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := r.Header.Get(driverHeader)
		if driverID == "" {
			http.Error(w, "missing "+driverHeader, http.StatusBadRequest)
			return
		}
		b, err := op(r.Context(), mux.Vars(r)["id"], driverID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	driverID := r.Header.Get(driverHeader)
	if driverID == "" {
		http.Error(w, "missing "+driverHeader, http.StatusBadRequest)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	b, err := s.Core.Reject(r.Context(), mux.Vars(r)["id"], driverID, body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
		http.Error(w, "driver_id required", http.StatusBadRequest)
		return
	}
	b, err := s.Core.Assign(r.Context(), mux.Vars(r)["id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUnassign(w http.ResponseWriter, r *http.Request) {
	b, err := s.Core.Unassign(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Core.DeleteBooking(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := booking.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case booking.KindNotFound:
		status = http.StatusNotFound
	case booking.KindUnauthorized:
		status = http.StatusForbidden
	case booking.KindConflict, booking.KindAlreadyPaid, booking.KindInvalidState:
		status = http.StatusConflict
	case booking.KindNotAssigned, booking.KindNoApprovedVehicle:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error":     err.Error(),
		"kind":      kind.String(),
		"retriable": kind.Retriable(),
	})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
