package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter mounts every API route on a fresh router
func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()

	// CORS middleware
	router.Use(corsMiddleware)

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Scan control endpoints
	api.HandleFunc("/scan/run", h.RunScan).Methods("POST")
	api.HandleFunc("/monitoring/start", h.StartMonitoring).Methods("POST")
	api.HandleFunc("/monitoring/stop", h.StopMonitoring).Methods("POST")
	api.HandleFunc("/monitoring/status", h.GetMonitoringStatus).Methods("GET")

	// Threats endpoints
	api.HandleFunc("/threats/stats", h.GetThreatStats).Methods("GET")
	api.HandleFunc("/stream/threats", h.StreamThreats).Methods("GET")
	api.HandleFunc("/threats", h.GetThreats).Methods("GET")
	api.HandleFunc("/threats/{id}", h.GetThreat).Methods("GET")

	// Rules endpoints
	api.HandleFunc("/rules/stats", h.GetRulesStats).Methods("GET")
	api.HandleFunc("/rules", h.GetRules).Methods("GET")
	api.HandleFunc("/rules", h.CreateRule).Methods("POST")
	api.HandleFunc("/rules/{id}", h.GetRule).Methods("GET")
	api.HandleFunc("/rules/{id}", h.DeleteRule).Methods("DELETE")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	return router
}

var allowedOrigins = []string{
	"http://localhost:5000",
	"http://localhost:3000",
	"http://127.0.0.1:5000",
	"http://127.0.0.1:3000",
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowOrigin := "*"
		if origin != "" {
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					allowOrigin = origin
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if allowOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
