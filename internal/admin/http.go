// Package admin exposes the provisioning side of the verification core:
// gigs, tester slots, claim codes and device inspection.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"vouch/internal/clock"
	"vouch/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type Store interface {
	CreateGig(g *models.Gig) error
	FindGig(gigID string) (models.Gig, bool, error)
	CreateTester(t *models.Tester) error
	FindTester(gigID, testerID string) (models.Tester, bool, error)
	CreateClaimCode(c *models.ClaimCode) error
	GetDevice(deviceID string) (models.Device, bool, error)
	RecentDays(gigID, testerID string, limit int) ([]models.DayBucket, error)
}

type HTTP struct {
	store Store
	clock clock.Clock
}

func NewHTTP(s Store, clk clock.Clock) *HTTP {
	if clk == nil {
		clk = clock.System{}
	}
	return &HTTP{store: s, clock: clk}
}

func (h *HTTP) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/admin/gigs", h.createGig).Methods(http.MethodPost)
	api.HandleFunc("/admin/gigs/{gigID}/testers", h.createTester).Methods(http.MethodPost)
	api.HandleFunc("/admin/gigs/{gigID}/testers/{testerID}", h.getTester).Methods(http.MethodGet)
	api.HandleFunc("/admin/claimcodes", h.createClaimCode).Methods(http.MethodPost)
	api.HandleFunc("/admin/devices/{deviceID}", h.getDevice).Methods(http.MethodGet)
}

func (h *HTTP) createGig(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GigID string `json:"gigId"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.GigID) == "" {
		http.Error(w, "invalid body (need {gigId, name})", http.StatusBadRequest)
		return
	}
	g := &models.Gig{GigID: strings.TrimSpace(in.GigID), Name: in.Name}
	if err := h.store.CreateGig(g); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(g)
}

func (h *HTTP) createTester(w http.ResponseWriter, r *http.Request) {
	gigID := mux.Vars(r)["gigID"]
	if _, ok, err := h.store.FindGig(gigID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	} else if !ok {
		http.Error(w, "gig not found", http.StatusNotFound)
		return
	}
	var in struct {
		TesterID string `json:"testerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.TesterID) == "" {
		http.Error(w, "invalid body (need {testerId})", http.StatusBadRequest)
		return
	}
	t := &models.Tester{GigID: gigID, TesterID: strings.TrimSpace(in.TesterID)}
	if err := h.store.CreateTester(t); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(t)
}

func (h *HTTP) getTester(w http.ResponseWriter, r *http.Request) {
	gigID, testerID := mux.Vars(r)["gigID"], mux.Vars(r)["testerID"]
	t, ok, err := h.store.FindTester(gigID, testerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "tester not found", http.StatusNotFound)
		return
	}
	days, err := h.store.RecentDays(gigID, testerID, 14)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"tester": t, "recentDays": days})
}

// POST /api/v1/admin/claimcodes {gigId, testerId, packageName, ttlHours?}
func (h *HTTP) createClaimCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GigID       string `json:"gigId"`
		TesterID    string `json:"testerId"`
		PackageName string `json:"packageName"`
		TTLHours    int    `json:"ttlHours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil ||
		in.GigID == "" || in.TesterID == "" || in.PackageName == "" {
		http.Error(w, "invalid body (need {gigId, testerId, packageName})", http.StatusBadRequest)
		return
	}
	if _, ok, err := h.store.FindTester(in.GigID, in.TesterID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	} else if !ok {
		http.Error(w, "tester not provisioned in gig", http.StatusNotFound)
		return
	}
	ttl := in.TTLHours
	if ttl <= 0 {
		ttl = 72
	}
	c := &models.ClaimCode{
		Code:        uuid.NewString(),
		GigID:       in.GigID,
		TesterID:    in.TesterID,
		PackageName: in.PackageName,
		ExpiresAt:   h.clock.Now().Add(time.Duration(ttl) * time.Hour),
	}
	if err := h.store.CreateClaimCode(c); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"claimCode": c.Code,
		"expiresAt": c.ExpiresAt,
	})
}

func (h *HTTP) getDevice(w http.ResponseWriter, r *http.Request) {
	d, ok, err := h.store.GetDevice(mux.Vars(r)["deviceID"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"deviceId":  d.DeviceID,
		"testerIds": models.DecodeSet(d.TesterIDs),
		"gigIds":    models.DecodeSet(d.GigIDs),
		"flagged":   d.Flagged,
		"lastUsed":  d.LastUsed,
	})
}
