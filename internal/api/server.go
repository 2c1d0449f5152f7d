package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"Launchpad/internal/logger"
	"Launchpad/internal/metrics"
	"Launchpad/internal/service"
)

// Snapshotter provides the latest state snapshot.
type Snapshotter interface {
	Snapshot() error
	Latest() (data []byte, seq uint64)
}

// streamBuffer is the per-client event buffer of GET /events/stream.
const streamBuffer = 256

// Server is the HTTP API server.
type Server struct {
	addr      string           // addr is the HTTP listen address
	svc       *service.Service // svc executes every operation
	snapshots Snapshotter      // snapshots serves GET /snapshot, may be nil
	devMode   bool             // devMode trusts an unsigned "from" field
	now       func() time.Time // now is the wall clock checked against request expiry
	replay    *replayGuard     // replay rejects a signed request seen twice
	server    *http.Server     // server is the underlying HTTP server
	done      chan struct{}    // done is closed by Stop to end event streams
	stopOnce  sync.Once
}

// New creates a new HTTP API server. Mutating requests must be signed unless
// devMode is set.
func New(addr string, svc *service.Service, snapshots Snapshotter, devMode bool) *Server {
	return &Server{
		addr:      addr,
		svc:       svc,
		snapshots: snapshots,
		devMode:   devMode,
		now:       time.Now,
		replay:    newReplayGuard(),
		done:      make(chan struct{}),
	}
}

// Handler returns the routed handler wrapped with request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /events/stream", s.handleEventStream)
	mux.HandleFunc("POST /time/advance", s.handleAdvanceTime)

	mux.HandleFunc("POST /tokens", s.handleDeployToken)
	mux.HandleFunc("GET /tokens/{token}", s.handleTokenInfo)
	mux.HandleFunc("GET /tokens/{token}/balances/{holder}", s.handleTokenBalance)
	mux.HandleFunc("GET /tokens/{token}/allowances/{owner}/{spender}", s.handleTokenAllowance)
	mux.HandleFunc("POST /tokens/{token}/transfer", s.handleTransfer)
	mux.HandleFunc("POST /tokens/{token}/approve", s.handleApprove)

	mux.HandleFunc("POST /launchpads", s.handleCreateLaunchpad)
	mux.HandleFunc("GET /launchpads", s.handleListLaunchpads)
	mux.HandleFunc("GET /launchpads/{lp}", s.handleLaunchpad)
	mux.HandleFunc("POST /launchpads/{lp}/claim", s.handleClaim)
	mux.HandleFunc("POST /launchpads/{lp}/buy", s.handleBuy)
	mux.HandleFunc("POST /launchpads/{lp}/signer", s.handleUpdateSigner)
	mux.HandleFunc("POST /launchpads/{lp}/withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /launchpads/{lp}/owner", s.handleTransferOwnership)
	mux.HandleFunc("POST /launchpads/{lp}/invalidate", s.handleInvalidate)
	mux.HandleFunc("GET /launchpads/{lp}/claims/{user}/{round}", s.handleHasClaimed)
	mux.HandleFunc("GET /launchpads/{lp}/finalized", s.handleFinalized)

	mux.HandleFunc("POST /vouchers", s.handleIssueVoucher)

	return instrument(mux)
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and ends open event streams.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument records method, matched route, status and latency of every request.
func instrument(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}

		metrics.ObserveHTTP(r.Method, route, rec.status, time.Since(start))
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeFailure maps an operation error to its status and kind.
func writeFailure(w http.ResponseWriter, err error) {
	code := service.ErrorCode(err)
	status := statusFor(code)

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
