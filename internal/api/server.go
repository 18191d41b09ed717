// Package api provides the HTTP and WebSocket server hosting backtest
// runs over internal/backtester.Engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hyperarena/backtest-core/internal/backtester"
	"github.com/hyperarena/backtest-core/internal/data"
	"github.com/hyperarena/backtest-core/internal/events"
	"github.com/hyperarena/backtest-core/internal/regime"
	"github.com/hyperarena/backtest-core/internal/signals"
	"github.com/hyperarena/backtest-core/internal/strategy"
	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket host for running and inspecting
// backtests. Each run gets its own Engine; the server itself only
// tracks run state and fans results out over its own WebSocket
// clients.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	store *data.Store
	pools []signals.PoolDefinition
	bus   *events.EventBus

	runs map[string]*run
}

// Client is a connected WebSocket client.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Subs map[string]bool
}

// run tracks one in-flight or completed backtest.
type run struct {
	ID      string
	Config  types.BacktestConfig
	Engine  *backtester.Engine
	Status  string
	Started time.Time
	Result  *types.BacktestResult
	Err     error
}

// Message is a request/response/event envelope exchanged over the
// WebSocket connection.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Method    string      `json:"method"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewServer creates an API server backed by store for market data and
// pools as the set of signal pools available to a run's
// SignalPoolIDs.
func NewServer(logger *zap.Logger, config *types.ServerConfig, store *data.Store, pools []signals.PoolDefinition) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:  logger,
		config:  config,
		router:  mux.NewRouter(),
		clients: make(map[string]*Client),
		store:   store,
		pools:   pools,
		bus:     events.NewEventBus(logger, events.DefaultEventBusConfig()),
		runs:    make(map[string]*run),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.bus.SubscribeAll(s.forwardEvent)
	s.setupRoutes()
	return s
}

// forwardEvent relays every bus event to connected WebSocket clients.
func (s *Server) forwardEvent(e events.Event) error {
	s.broadcast(&Message{
		ID: e.GetID(), Type: "event", Method: string(e.GetType()),
		Payload: e, Timestamp: e.GetTimestamp().UnixMilli(),
	})
	return nil
}

func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/cancel", s.handleCancelBacktest).Methods("POST")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server, closing all WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
	s.mu.Unlock()
	s.bus.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	interval := types.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = types.Interval1h
	}
	t0 := parseMillis(r.URL.Query().Get("start"), time.Now().AddDate(0, -1, 0).UnixMilli())
	t1 := parseMillis(r.URL.Query().Get("end"), time.Now().UnixMilli())

	candles, err := s.store.OHLC(symbol, interval, t0, t1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol, "interval": interval, "bars": candles, "count": len(candles),
	})
}

func parseMillis(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli()
	}
	return fallback
}

// buildEngine constructs the per-run collaborators an Engine needs:
// a fresh HistoricalDataProvider over the shared store, a signal pool
// evaluator scoped to the server's configured pools, a regime
// classifier, and the stateless strategy runner.
func (s *Server) buildEngine(cfg types.BacktestConfig) *backtester.Engine {
	provider := data.NewHistoricalDataProvider(s.store)
	poolEval := signals.NewPoolEvaluator(s.logger, s.store, s.pools)
	classifier := regime.NewClassifier(s.logger, s.store, regime.DefaultConfig())
	strategyRunner := strategy.NewRunner(s.logger, s.store)
	return backtester.NewEngine(provider, poolEval, classifier, strategyRunner, s.logger)
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var cfg types.BacktestConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	engine := s.buildEngine(cfg)
	st := &run{ID: cfg.ID, Config: cfg, Engine: engine, Status: "running", Started: time.Now()}

	s.mu.Lock()
	s.runs[cfg.ID] = st
	s.mu.Unlock()

	metricRunsStarted.Inc()
	go s.execute(st)

	json.NewEncoder(w).Encode(map[string]interface{}{"id": cfg.ID, "status": "running", "started": st.Started.Unix()})
}

// execute runs a backtest via RunStream, publishing each trigger's
// outcome and trades onto the server's event bus, which in turn fans
// them out to connected WebSocket clients via forwardEvent.
func (s *Server) execute(st *run) {
	triggerCh, resultCh := st.Engine.RunStream(context.Background(), st.Config)

	go func() {
		for exec := range triggerCh {
			executed := exec.DecisionTrade != nil || len(exec.TPSLTrades) > 0
			metricTriggersExecuted.WithLabelValues(boolLabel(executed)).Inc()
			s.bus.Publish(events.NewTriggerExecutedEvent(st.ID, exec.Trigger.Symbol, string(exec.Trigger.Type), executed, ""))

			if exec.RiskTripped {
				metricRiskTrips.WithLabelValues(exec.RiskTripReason).Inc()
				s.bus.Publish(events.NewRiskAlertEvent(st.ID, exec.RiskTripReason))
			}

			if exec.DecisionTrade != nil {
				t := exec.DecisionTrade
				metricTradesRecorded.WithLabelValues(string(t.Operation)).Inc()
				s.bus.Publish(events.NewTradeRecordedEvent(st.ID, t.Symbol, string(t.Operation), t.Size, t.EntryPrice, t.RealizedPnL))
			}
			for i := range exec.TPSLTrades {
				t := exec.TPSLTrades[i]
				metricTradesRecorded.WithLabelValues(string(t.Operation)).Inc()
				s.bus.Publish(events.NewTradeRecordedEvent(st.ID, t.Symbol, string(t.Operation), t.Size, t.ExitPrice, t.RealizedPnL))
			}
		}
	}()

	result := <-resultCh

	s.mu.Lock()
	st.Result = result
	if result != nil && result.Success {
		st.Status = "completed"
	} else {
		st.Status = "failed"
	}
	s.mu.Unlock()

	errMsg := ""
	if result != nil {
		errMsg = result.Error
	}
	metricRunsCompleted.WithLabelValues(st.Status).Inc()
	s.bus.Publish(events.NewRunCompletedEvent(st.ID, st.Status == "completed", errMsg))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	st, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "backtest not found", http.StatusNotFound)
		return
	}

	resp := map[string]interface{}{"id": st.ID, "status": st.Status, "started": st.Started.Unix()}
	if st.Result != nil {
		resp["result"] = st.Result
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	st, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "backtest not found", http.StatusNotFound)
		return
	}
	if st.Result == nil {
		http.Error(w, "backtest not complete", http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "trades": st.Result.Trades, "count": len(st.Result.Trades)})
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	st, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "backtest not found", http.StatusNotFound)
		return
	}
	if st.Status != "running" {
		http.Error(w, "backtest not running", http.StatusBadRequest)
		return
	}
	st.Engine.Cancel()
	json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": "cancelling"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{ID: uuid.New().String(), Conn: conn, Send: make(chan []byte, 256), Subs: make(map[string]bool)}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()
	metricWebsocketClients.Inc()

	s.logger.Info("websocket client connected", zap.String("id", client.ID))
	go s.readPump(client)
	go s.writePump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		metricWebsocketClients.Dec()
		client.Conn.Close()
		s.logger.Info("websocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(512 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}
		s.handleMessage(client, &msg)
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(client *Client, msg *Message) {
	response := &Message{ID: msg.ID, Type: "response", Method: msg.Method, Timestamp: time.Now().UnixMilli()}

	switch msg.Method {
	case "ping":
		response.Payload = map[string]string{"pong": "ok"}

	case "backtest:run":
		payload, ok := msg.Payload.(map[string]interface{})
		if !ok {
			response.Error = "invalid payload"
			break
		}
		raw, _ := json.Marshal(payload)
		var cfg types.BacktestConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			response.Error = "invalid backtest config"
			break
		}
		if cfg.ID == "" {
			cfg.ID = uuid.New().String()
		}
		engine := s.buildEngine(cfg)
		st := &run{ID: cfg.ID, Config: cfg, Engine: engine, Status: "running", Started: time.Now()}
		s.mu.Lock()
		s.runs[cfg.ID] = st
		s.mu.Unlock()
		go s.execute(st)
		response.Payload = map[string]interface{}{"id": cfg.ID, "status": "running"}

	case "backtest:status":
		payload, _ := msg.Payload.(map[string]interface{})
		id, _ := payload["id"].(string)
		s.mu.RLock()
		st, ok := s.runs[id]
		s.mu.RUnlock()
		if !ok {
			response.Error = "backtest not found"
		} else {
			response.Payload = map[string]interface{}{"id": st.ID, "status": st.Status}
		}

	case "backtest:cancel":
		payload, _ := msg.Payload.(map[string]interface{})
		id, _ := payload["id"].(string)
		s.mu.RLock()
		st, ok := s.runs[id]
		s.mu.RUnlock()
		if !ok {
			response.Error = "backtest not found"
		} else {
			st.Engine.Cancel()
			response.Payload = map[string]string{"status": "cancelling"}
		}

	case "subscribe":
		payload, _ := msg.Payload.(map[string]interface{})
		channel, _ := payload["channel"].(string)
		client.Subs[channel] = true
		response.Payload = map[string]string{"subscribed": channel}

	case "unsubscribe":
		payload, _ := msg.Payload.(map[string]interface{})
		channel, _ := payload["channel"].(string)
		delete(client.Subs, channel)
		response.Payload = map[string]string{"unsubscribed": channel}

	default:
		response.Error = "unknown method"
	}

	b, _ := json.Marshal(response)
	client.Send <- b
}

func (s *Server) broadcast(msg *Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.Send <- b:
		default:
		}
	}
}
