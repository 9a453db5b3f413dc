package receipt

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// ScanStatus is the read-only view of the scan flow exposed to the
// presentation and navigation layers. It is assembled by the caller from the
// scan machine's selectors; the server never mutates machine state.
type ScanStatus struct {
	Phase            string `json:"phase"`
	Mode             string `json:"mode"`
	Completed        int    `json:"completed"`
	Total            int    `json:"total"`
	ActiveDialog     string `json:"active_dialog,omitempty"`
	CreditsRemaining int    `json:"credits_remaining"`
	HasActiveRequest bool   `json:"has_active_request"`
}

// StatusFunc supplies the current ScanStatus snapshot.
type StatusFunc func() ScanStatus

// Server exposes receipts and scan status over HTTP
type Server struct {
	db        DB
	storage   Storage
	status    StatusFunc
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(db DB, storage Storage, status StatusFunc, basicAuth BasicAuth) *Server {
	return NewServerWithMux(db, storage, status, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(db DB, storage Storage, status StatusFunc, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		db:        db,
		storage:   storage,
		status:    status,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Scanner"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes wires the read-only API surface
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/status", s.corsMiddleware(s.requireAuth(s.handleStatus)))
	s.mux.HandleFunc("GET /api/receipts", s.corsMiddleware(s.requireAuth(s.handleListReceipts)))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.corsMiddleware(s.requireAuth(s.handleGetReceipt)))
	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.corsMiddleware(s.requireAuth(s.handleGetReceiptFile)))
	s.mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	slog.Info("Starting HTTP server", "address", addr)
	return http.ListenAndServe(addr, s.mux)
}
