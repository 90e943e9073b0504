package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
)

// Server принимает конверты сигналов по HTTP и толкает их в канал
// конвейера. Полная валидация происходит дальше, здесь только схема.
type Server struct {
	envs     chan<- Envelope
	onAccept func(t time.Time)
}

// NewServer. onAccept опционален (health-отметка о последнем сигнале).
func NewServer(envs chan<- Envelope, onAccept func(t time.Time)) *Server {
	return &Server{envs: envs, onAccept: onAccept}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/signal", s.handleSignal)
	return mux
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env Envelope
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "bad envelope: "+err.Error(), http.StatusBadRequest)
		return
	}
	if env.ID == "" {
		env.ID = fmt.Sprintf("sig-%d", time.Now().UnixNano())
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	select {
	case s.envs <- env:
	default:
		// канал забит — апстрим должен ретраить, мы не копим очередь в памяти
		http.Error(w, "pipeline busy", http.StatusServiceUnavailable)
		return
	}

	if s.onAccept != nil {
		s.onAccept(time.Now())
	}
	logger.Info("intake: accepted signal %s %s %s", env.ID, env.Instrument, env.Action)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"accepted":true,"id":"` + env.ID + `"}`))
}
