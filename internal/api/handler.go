package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/incident"
	"github.com/clinicops/sentinel/internal/monitor"
	"github.com/clinicops/sentinel/internal/notify"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	mon *monitor.Monitor
	mux *http.ServeMux
}

// New creates a Handler wired to the given monitor and registers all routes.
func New(mon *monitor.Monitor) http.Handler {
	h := &Handler{mon: mon, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/alerts/suppressed", h.suppressed)
	h.mux.HandleFunc("/api/v1/incidents", h.incidents)
	h.mux.HandleFunc("/api/v1/violations", h.violations)
	h.mux.HandleFunc("/api/v1/integrations", h.integrations)
	h.mux.HandleFunc("/api/v1/notifications", h.notifications)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health - an overview of outstanding work.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildOverview(h.mon))
}

// alerts returns GET /api/v1/alerts - active and acknowledged alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.mon.ActiveAlerts())
}

// suppressed returns GET /api/v1/alerts/suppressed - the audit markers for
// matches muted by suppression windows.
func (h *Handler) suppressed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.mon.SuppressedAlerts())
}

// incidents returns GET /api/v1/incidents?status= - incidents in creation
// order, optionally filtered by lifecycle status.
func (h *Handler) incidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := incident.Status(r.URL.Query().Get("status"))
	jsonResp(w, http.StatusOK, h.mon.Incidents(status))
}

// violations returns GET /api/v1/violations?category=&severity= - ledger
// entries, optionally filtered by rule category and minimum severity.
func (h *Handler) violations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	jsonResp(w, http.StatusOK, h.mon.Violations(
		q.Get("category"),
		event.Severity(q.Get("severity")),
	))
}

// integrations returns GET /api/v1/integrations?service_type= - breaker
// state per integration plus per-workflow impact.
func (h *Handler) integrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.mon.IntegrationHealthReport(r.URL.Query().Get("service_type")))
}

// notifications returns GET /api/v1/notifications?status= - queue items.
func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.mon.Notifications(notify.Status(r.URL.Query().Get("status"))))
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, map[string]string{"error": msg})
}

// Overview is the payload for GET /api/v1/health and the WebSocket feed.
type Overview struct {
	ActiveAlerts    int    `json:"active_alerts"`
	CriticalAlerts  int    `json:"critical_alerts"`
	OpenIncidents   int    `json:"open_incidents"`
	P1Incidents     int    `json:"p1_incidents"`
	OpenBreakers    int    `json:"open_breakers"`
	PendingNotifies int    `json:"pending_notifications"`
	FailedNotifies  int    `json:"failed_notifications"`
	GeneratedAt     string `json:"generated_at"` // RFC3339
}

// BuildOverview assembles the current overview from monitor queries.
func BuildOverview(mon *monitor.Monitor) Overview {
	o := Overview{GeneratedAt: time.Now().UTC().Format(time.RFC3339)}

	for _, a := range mon.ActiveAlerts() {
		o.ActiveAlerts++
		if a.Severity == event.SeverityCritical {
			o.CriticalAlerts++
		}
	}
	for _, inc := range mon.Incidents("") {
		if inc.Status.Terminal() {
			continue
		}
		o.OpenIncidents++
		if inc.Priority == incident.PriorityP1 {
			o.P1Incidents++
		}
	}
	for _, s := range mon.IntegrationHealthReport("").Integrations {
		if s.State != "closed" {
			o.OpenBreakers++
		}
	}
	o.PendingNotifies = len(mon.Notifications(notify.StatusPending))
	o.FailedNotifies = len(mon.Notifications(notify.StatusFailed))
	return o
}
