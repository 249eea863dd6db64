package heartbeat

import (
	"encoding/json"
	"net/http"
	"time"

	"vouch/internal/fault"
	"vouch/internal/logs"

	"github.com/gorilla/mux"
)

type HTTP struct{ proc *Processor }

func NewHTTP(p *Processor) *HTTP { return &HTTP{proc: p} }

func (h *HTTP) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/heartbeat", h.logHeartbeat).Methods(http.MethodPost)
}

// POST /api/v1/heartbeat
func (h *HTTP) logHeartbeat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GigID      string      `json:"gigId"`
		TesterID   string      `json:"testerId"`
		DeviceID   string      `json:"deviceId"`
		InstallID  string      `json:"installId"`
		SessionID  string      `json:"sessionId"`
		Timestamps []time.Time `json:"timestamps"`
		IsEmulator *bool       `json:"isEmulator"`
		Device     *struct {
			AppPackageName string `json:"appPackageName"`
		} `json:"device"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		fault.Write(w, fault.New(fault.InvalidArgument, "invalid json body"))
		return
	}
	// absent and false are different things for this flag
	if in.IsEmulator == nil {
		fault.Write(w, fault.New(fault.InvalidArgument, "isEmulator is required"))
		return
	}

	payload := Payload{
		GigID:      in.GigID,
		TesterID:   in.TesterID,
		DeviceID:   in.DeviceID,
		InstallID:  in.InstallID,
		SessionID:  in.SessionID,
		Timestamps: in.Timestamps,
		IsEmulator: *in.IsEmulator,
	}
	if in.Device != nil {
		payload.PackageName = in.Device.AppPackageName
	}

	res, err := h.proc.Process(payload)
	if err != nil {
		if fault.CodeOf(err) == fault.Internal {
			logs.Logger.Errorf("heartbeat: %v", err)
		}
		fault.Write(w, err)
		return
	}

	if res.MultiAccountDetected {
		logs.Logger.Warnf("tester locked: gig=%s tester=%s device=%s mismatch=%v",
			in.GigID, in.TesterID, in.DeviceID, res.DeviceMismatch)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"completed":            res.Completed,
		"multiAccountDetected": res.MultiAccountDetected,
		"deviceMismatch":       res.DeviceMismatch,
	})
}
