package claims

import (
	"encoding/json"
	"net/http"

	"vouch/internal/fault"
	"vouch/internal/logs"

	"github.com/gorilla/mux"
)

type HTTP struct{ binder *Binder }

func NewHTTP(b *Binder) *HTTP { return &HTTP{binder: b} }

func (h *HTTP) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/claims/verify", h.verifyClaimCode).Methods(http.MethodPost)
}

// POST /api/v1/claims/verify
func (h *HTTP) verifyClaimCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClaimCode   string `json:"claimCode"`
		InstallID   string `json:"installId"`
		DeviceID    string `json:"deviceId"`
		PackageName string `json:"packageName"`
		IsEmulator  *bool  `json:"isEmulator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		fault.Write(w, fault.New(fault.InvalidArgument, "invalid json body"))
		return
	}
	if in.IsEmulator == nil {
		fault.Write(w, fault.New(fault.InvalidArgument, "isEmulator is required"))
		return
	}

	res, err := h.binder.Redeem(RedeemInput{
		ClaimCode:   in.ClaimCode,
		InstallID:   in.InstallID,
		DeviceID:    in.DeviceID,
		PackageName: in.PackageName,
		IsEmulator:  *in.IsEmulator,
	})
	if err != nil {
		if fault.CodeOf(err) == fault.Internal {
			logs.Logger.Errorf("claim redeem: %v", err)
		}
		fault.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"gigId":    res.GigID,
		"testerId": res.TesterID,
	})
}
