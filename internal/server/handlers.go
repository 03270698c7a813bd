package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/battled/internal/meteora"
	"github.com/wnt/battled/internal/monitor"
	"github.com/wnt/battled/internal/rpc"
	chain "github.com/wnt/battled/internal/solana"
)

const (
	solanaHealthTimeout = 10 * time.Second
	redisHealthTimeout  = 2 * time.Second
)

// response is the envelope of every JSON answer
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type healthData struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Redis     string    `json:"redis,omitempty"`
}

type solanaHealthData struct {
	Connected     bool       `json:"connected"`
	NodeHealth    string     `json:"node_health"`
	Wallet        string     `json:"wallet"`
	WalletBalance string     `json:"wallet_balance_sol"`
	RPC           *rpc.Stats `json:"rpc,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, `{"success":false,"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, response{Success: false, Error: msg, Message: detail})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	data := healthData{
		Status:    "ok",
		Timestamp: s.now().UTC(),
		Service:   "battled",
	}
	if s.redis == nil {
		writeJSON(w, http.StatusOK, response{Success: true, Message: "battled is running", Data: data})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), redisHealthTimeout)
	defer cancel()

	if err := s.redis.Ping(ctx); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Redis health check failed")
		data.Status = "degraded"
		data.Redis = "unreachable"
		writeJSON(w, http.StatusServiceUnavailable, response{Success: false, Error: "Redis unreachable", Data: data})
		return
	}
	data.Redis = "ok"
	writeJSON(w, http.StatusOK, response{Success: true, Message: "battled is running", Data: data})
}

func (s *Server) solanaHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), solanaHealthTimeout)
	defer cancel()

	status, balance, err := chain.Health(ctx, s.chain, s.wallet)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Solana health check failed")
		writeError(w, http.StatusServiceUnavailable, "Failed to connect to Solana network", err.Error())
		return
	}

	data := solanaHealthData{
		Connected:     true,
		NodeHealth:    status,
		Wallet:        s.wallet.String(),
		WalletBalance: meteora.Amount(balance, meteora.SOLDecimals).String(),
	}
	if s.endpoints != nil {
		stats := s.endpoints.Stats()
		data.RPC = &stats
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

func (s *Server) daemonStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: s.monitor.Status()})
}

func (s *Server) daemonStart(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Start(); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to start monitor")
		writeError(w, http.StatusInternalServerError, "Failed to start daemon", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Battle daemon started", Data: s.monitor.Status()})
}

func (s *Server) daemonStop(w http.ResponseWriter, r *http.Request) {
	s.monitor.Stop()
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Battle daemon stopped", Data: s.monitor.Status()})
}

func (s *Server) daemonCheck(w http.ResponseWriter, r *http.Request) {
	// A pass is not abandoned when the client goes away
	err := s.monitor.ForceCheck(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, monitor.ErrPassInProgress):
		writeError(w, http.StatusConflict, "Battle check already in progress", "")
	case errors.Is(err, monitor.ErrPassLocked):
		writeError(w, http.StatusConflict, "Battle check already in progress", "Running on another replica")
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Forced check failed")
		writeError(w, http.StatusInternalServerError, "Failed to check battles", err.Error())
	default:
		writeJSON(w, http.StatusOK, response{Success: true, Message: "Battle check completed", Data: s.monitor.Status().LastPass})
	}
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Endpoint not found", r.Method+" "+r.URL.Path)
}
