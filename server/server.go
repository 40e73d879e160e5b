// Package server exposes the engine over HTTP and streams visualization
// updates over websocket.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"darkpool-go/infrastructure/logger"
	"darkpool-go/internal/engine"
)

// Engine is the subset of the engine the API drives.
type Engine interface {
	AddOrder(ctx context.Context, req engine.OrderRequest) (engine.Order, error)
	CancelOrder(id string) (engine.Order, error)
	ForceCloseEpoch(epochID string) error
	UpdateConfig(patch engine.ConfigPatch) (engine.Config, error)
	Snapshot() engine.EngineState
	Subscribe(fn engine.Subscriber) (unsubscribe func())
}

// Config API 服务配置
type Config struct {
	Addr       string
	AuthToken  string
	CORSOrigin string
}

const writeWait = 5 * time.Second

// Server HTTP/WebSocket 服务
type Server struct {
	eng        Engine
	vizHub     *hub[outboundMessage]
	upgrader   websocket.Upgrader
	authToken  string
	corsOrigin string
	log        *logger.Logger
	http       *http.Server

	lastVersion atomic.Uint64
	unsubscribe func()
}

type orderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Amount     decimal.Decimal  `json:"amount"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	PriceRange *struct {
		Min decimal.Decimal `json:"min"`
		Max decimal.Decimal `json:"max"`
	} `json:"priceRange,omitempty"`
}

// configRequest carries durations in milliseconds.
type configRequest struct {
	BlocksPerEpoch        *int   `json:"blocksPerEpoch,omitempty"`
	BlockDurationMs       *int64 `json:"blockDurationMs,omitempty"`
	EpochMatchingDelayMs  *int64 `json:"epochMatchingDelayMs,omitempty"`
	PriorityMin           *int   `json:"priorityMin,omitempty"`
	PriorityMax           *int   `json:"priorityMax,omitempty"`
	ReconciliationEnabled *bool  `json:"reconciliationEnabled,omitempty"`
	ReconcileIntervalMs   *int64 `json:"reconcileIntervalMs,omitempty"`
	LedgerGraceMs         *int64 `json:"ledgerGraceMs,omitempty"`
	MatchJitterMinMs      *int64 `json:"matchJitterMinMs,omitempty"`
	MatchJitterMaxMs      *int64 `json:"matchJitterMaxMs,omitempty"`
}

type closeRequest struct {
	EpochID string `json:"epochId"`
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Version uint64      `json:"version"`
	Data    interface{} `json:"data"`
}

// New 创建服务并订阅引擎状态，每次状态变化推送可视化数据
func New(eng Engine, cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	s := &Server{
		eng:        eng,
		vizHub:     newHub[outboundMessage](),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		authToken:  cfg.AuthToken,
		corsOrigin: cfg.CORSOrigin,
		log:        log,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.unsubscribe = eng.Subscribe(s.onState)
	return s
}

// onState drops snapshots older than one already broadcast.
func (s *Server) onState(state engine.EngineState) {
	for {
		last := s.lastVersion.Load()
		if state.Version <= last {
			return
		}
		if s.lastVersion.CompareAndSwap(last, state.Version) {
			break
		}
	}
	if s.vizHub.Len() == 0 {
		return
	}
	s.vizHub.Broadcast(outboundMessage{Type: "visualization", Version: state.Version, Data: engine.BuildVisualization(state)})
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleAddOrder)
	mux.HandleFunc("DELETE /orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /visualization", s.handleVisualization)
	mux.HandleFunc("PATCH /config", s.handleConfig)
	mux.HandleFunc("POST /epochs/close", s.handleCloseEpoch)
	mux.HandleFunc("GET /ws/visualization", s.handleVisualizationStream)
	return s.withCORS(s.withAuth(mux))
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("api server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and ends websocket streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.unsubscribe()
	s.vizHub.CloseAll()
	return s.http.Shutdown(ctx)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("missing or invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAddOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	er := engine.OrderRequest{
		Symbol: req.Symbol,
		Side:   engine.Side(strings.ToLower(req.Side)),
		Amount: req.Amount,
		Price:  req.Price,
	}
	if req.PriceRange != nil {
		er.PriceRange = &engine.PriceRange{Min: req.PriceRange.Min, Max: req.PriceRange.Max}
	}

	order, err := s.eng.AddOrder(r.Context(), er)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.eng.CancelOrder(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Snapshot())
}

func (s *Server) handleVisualization(w http.ResponseWriter, r *http.Request) {
	state := s.eng.Snapshot()
	writeJSON(w, http.StatusOK, outboundMessage{
		Type:    "visualization",
		Version: state.Version,
		Data:    engine.BuildVisualization(state),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	cfg, err := s.eng.UpdateConfig(req.patch())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleCloseEpoch(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
			return
		}
	}
	if err := s.eng.ForceCloseEpoch(req.EpochID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "closing"})
}

func (s *Server) handleVisualizationStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.vizHub.Subscribe(32)
	defer s.vizHub.Unsubscribe(sub)

	state := s.eng.Snapshot()
	if err := writeWS(conn, outboundMessage{Type: "visualization", Version: state.Version, Data: engine.BuildVisualization(state)}); err != nil {
		return
	}

	for msg := range sub.ch {
		if msg.Version <= state.Version {
			continue
		}
		if err := writeWS(conn, msg); err != nil {
			s.log.Debug("websocket closed", zap.Error(err))
			return
		}
	}
}

func writeWS(conn *websocket.Conn, msg outboundMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (r configRequest) patch() engine.ConfigPatch {
	return engine.ConfigPatch{
		BlocksPerEpoch:        r.BlocksPerEpoch,
		BlockDuration:         millis(r.BlockDurationMs),
		EpochMatchingDelay:    millis(r.EpochMatchingDelayMs),
		PriorityMin:           r.PriorityMin,
		PriorityMax:           r.PriorityMax,
		ReconciliationEnabled: r.ReconciliationEnabled,
		ReconcileInterval:     millis(r.ReconcileIntervalMs),
		LedgerGrace:           millis(r.LedgerGraceMs),
		MatchJitterMin:        millis(r.MatchJitterMinMs),
		MatchJitterMax:        millis(r.MatchJitterMaxMs),
	}
}

func millis(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder), errors.Is(err, engine.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrLedgerRejected):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrNoOpenBlock),
		errors.Is(err, engine.ErrOrderNotCancellable),
		errors.Is(err, engine.ErrEpochNotClosable),
		errors.Is(err, engine.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
