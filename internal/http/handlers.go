package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/dispatch"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/ledger"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
)

// Server binds the dispatch service to HTTP. The service stays
// transport-agnostic; this layer only decodes, calls and encodes.
type Server struct {
	svc    *dispatch.Service
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(svc *dispatch.Service, logger *slog.Logger) *Server {
	s := &Server{svc: svc, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides/request", s.handleRequestRide).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/status", s.handleRideStatus).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/claim", s.handleClaim).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/decline", s.handleDecline).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/confirm", s.handleRiderConfirm).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/reject", s.handleRiderReject).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/complete", s.handleComplete).Methods("POST")

	api.HandleFunc("/pullers", s.handleOnboard).Methods("POST")
	api.HandleFunc("/pullers/{puller_id}/alerts", s.handleAlerts).Methods("GET")
	api.HandleFunc("/pullers/{puller_id}/location", s.handleLocation).Methods("PUT")
	api.HandleFunc("/pullers/{puller_id}/availability", s.handleAvailability).Methods("PUT")
	api.HandleFunc("/pullers/{puller_id}/profile", s.handleProfile).Methods("GET")
	api.HandleFunc("/pullers/{puller_id}/history", s.handleHistory).Methods("GET")

	api.HandleFunc("/admin/reviews", s.handlePendingReviews).Methods("GET")
	api.HandleFunc("/admin/reviews/{ride_id}/resolve", s.handleResolve).Methods("POST")
	api.HandleFunc("/admin/analytics", s.handleAnalytics).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/pullers/{puller_id}", s.handleLocationWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RiderID     string `json:"rider_id"`
		Pickup      string `json:"pickup"`
		Destination string `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rideID, err := s.svc.RequestRide(req.RiderID, req.Pickup, req.Destination)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ride_id": rideID})
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetRideStatus(mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PullerID string `json:"puller_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.svc.ClaimRide(mux.Vars(r)["ride_id"], req.PullerID); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PullerID string `json:"puller_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.svc.RejectAssignment(mux.Vars(r)["ride_id"], req.PullerID); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRiderConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RiderConfirm(mux.Vars(r)["ride_id"]); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRiderReject(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RiderReject(mux.Vars(r)["ride_id"]); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PullerID   string  `json:"puller_id"`
		DropoffLat float64 `json:"dropoff_lat"`
		DropoffLng float64 `json:"dropoff_lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.svc.CompleteRide(mux.Vars(r)["ride_id"], req.PullerID, req.DropoffLat, req.DropoffLng)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string  `json:"user_id"`
		Lat    float64 `json:"lat"`
		Lng    float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.svc.OnboardPuller(req.UserID, models.Coord{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"puller_id": id})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.svc.ListAlerts(mux.Vars(r)["puller_id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.svc.UpdateLocation(mux.Vars(r)["puller_id"], req.Lat, req.Lng); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.PullerStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.svc.SetAvailability(mux.Vars(r)["puller_id"], req.Status); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProfile(mux.Vars(r)["puller_id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rides, err := s.svc.RideHistory(mux.Vars(r)["puller_id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handlePendingReviews(w http.ResponseWriter, r *http.Request) {
	rides, err := s.svc.PendingReviews()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action   string `json:"action"`
		Override *int   `json:"override,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.svc.ResolveReview(mux.Vars(r)["ride_id"], req.Action, req.Override)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.GetAnalytics()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

var upgrader = websocket.Upgrader{}

// handleLocationWS ingests a stream of position updates from a puller's
// device. Alerts remain a polled query; this socket is inbound only.
func (s *Server) handleLocationWS(w http.ResponseWriter, r *http.Request) {
	pullerID := mux.Vars(r)["puller_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	defer conn.Close()
	for {
		var msg struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if err := s.svc.UpdateLocation(pullerID, msg.Lat, msg.Lng); err != nil {
			s.logger.Warn("ws location update failed", "puller_id", pullerID, "error", err)
		}
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrValidation):
		status = http.StatusBadRequest
	default:
		s.logger.Error("internal error", "error", err)
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
