// v2
// internal/httpapi/router.go
package httpapi

import (
	"net/http"

	"log/slog"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"moldsense/internal/identity"
	"moldsense/internal/metrics"
)

// RouterConfig carries the optional pieces of the HTTP surface.
type RouterConfig struct {
	// Verifier gates the API routes. Nil leaves the API open.
	Verifier identity.Verifier
	// LiveHandler serves WebSocket subscriptions on /ws. Nil disables it.
	LiveHandler http.HandlerFunc
}

// NewRouter wires all HTTP routes exposed by the monitoring service. Health
// and metrics stay outside the auth gate so orchestration layers can probe
// them without credentials.
func NewRouter(logger *slog.Logger, health *HealthState, h *Handlers, rc RouterConfig) http.Handler {
	r := mux.NewRouter()
	// Installed as mux middleware so the matched route template is
	// available when labelling request metrics.
	r.Use(func(next http.Handler) http.Handler {
		return WrapWithLogging(logger, next)
	})

	r.HandleFunc("/health", healthLiveHandler).Methods("GET")
	r.HandleFunc("/health/live", healthLiveHandler).Methods("GET")
	r.HandleFunc("/health/ready", healthReadyHandler(health)).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	if rc.LiveHandler != nil {
		r.HandleFunc("/ws", rc.LiveHandler)
	}

	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/register", h.Register).Methods("POST")
	auth.HandleFunc("/login", h.Login).Methods("POST")
	auth.HandleFunc("/refresh", h.RefreshToken).Methods("POST")

	temp := r.PathPrefix("/api/temperature").Subrouter()
	temp.HandleFunc("/data", h.IngestReading).Methods("POST")
	temp.HandleFunc("/bulk", h.IngestBulk).Methods("POST")
	temp.HandleFunc("/simulate", h.SimulateFeed).Methods("POST")
	temp.HandleFunc("/state", h.GetState).Methods("GET")
	temp.HandleFunc("/config", h.UpdateConfig).Methods("POST")
	temp.HandleFunc("/reset", h.ResetState).Methods("POST")
	temp.HandleFunc("/history", h.ListLogs).Methods("GET")

	pred := r.PathPrefix("/api/predict").Subrouter()
	pred.HandleFunc("", h.Predict).Methods("POST")
	pred.HandleFunc("/from-history", h.PredictFromHistory).Methods("GET")
	pred.HandleFunc("/history", h.ListPredictions).Methods("GET")

	if rc.Verifier != nil {
		guard := RequireAuth(logger, rc.Verifier)
		temp.Use(guard)
		pred.Use(guard)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(logger, w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(logger, w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	recovery := handlers.RecoveryHandler(
		handlers.PrintRecoveryStack(false),
	)

	return recovery(cors(r))
}

func healthLiveHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func healthReadyHandler(health *HealthState) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !health.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
