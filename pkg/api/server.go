// Package api provides the HTTP and WebSocket control surface.
// Frontends query and mutate instrument settings over REST and receive
// settings_changed notifications over the WebSocket.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"scopectl/pkg/errors"
	"scopectl/pkg/log"
	"scopectl/pkg/scope"
	"scopectl/pkg/scpi"
)

// Server exposes one oscilloscope over HTTP.
type Server struct {
	scope *scope.Oscilloscope

	httpServer *http.Server
	addr       string
	logger     *log.Logger

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	running atomic.Bool
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string

	// Scope is the instrument handle to serve.
	Scope *scope.Oscilloscope
}

// New creates an API server. Call Start to begin serving.
func New(cfg Config) *Server {
	s := &Server{
		scope:     cfg.Scope,
		addr:      cfg.Addr,
		logger:    log.GetLogger("api"),
		wsClients: make(map[int64]*wsClient),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Start registers routes, subscribes to settings changes, and serves
// until Stop. It blocks.
func (s *Server) Start() error {
	s.scope.OnChange(func(subsystem string) {
		s.broadcastSettingsChanged(subsystem)
	})

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.running.Store(true)
	s.logger.Info("API server listening on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Handler returns the route table without starting a listener. Used by
// tests driving the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/scope/info", s.handleInfo)
	mux.HandleFunc("/scope/settings", s.handleSettings)
	mux.HandleFunc("/scope/pull", s.handlePull)
	mux.HandleFunc("/scope/push", s.handlePush)
	mux.HandleFunc("/scope/presets", s.handlePresets)
	mux.HandleFunc("/scope/preset", s.handlePreset)
	mux.HandleFunc("/scope/control", s.handleControl)
	mux.HandleFunc("/scope/setup/export", s.handleSetupExport)
	mux.HandleFunc("/scope/setup/import", s.handleSetupImport)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	return s.corsMiddleware(mux)
}

// Stop closes all WebSocket clients and shuts the listener down.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, c := range s.wsClients {
		c.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// REST handlers

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	tr := s.scope.Transport()
	s.writeJSON(w, map[string]any{
		"device":    s.scope.Device(),
		"resource":  tr.Resource(),
		"connected": tr.Connected(),
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.scope.Settings())
	case http.MethodPost:
		var b scope.SettingsBundle
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.scope.PushSettings(b); err != nil {
			s.writeScopeError(w, err)
			return
		}
		s.writeJSON(w, s.scope.Settings())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.scope.PullAll(); err != nil {
		s.writeScopeError(w, err)
		return
	}
	s.writeJSON(w, s.scope.Settings())
}

// pushRequest mutates one field of one subsystem. Value is typed by
// JSON: booleans for switches, numbers for scales and offsets, strings
// for enum tokens.
type pushRequest struct {
	Subsystem string          `json:"subsystem"`
	Field     string          `json:"field"`
	Value     json.RawMessage `json:"value"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	v, err := decodeValue(req.Value)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	switch req.Subsystem {
	case "channel1":
		err = s.scope.Ch1.Push(req.Field, v)
	case "channel2":
		err = s.scope.Ch2.Push(req.Field, v)
	case "trigger":
		err = s.scope.Trig.Push(req.Field, v)
	case "timebase":
		err = s.scope.TB.Push(req.Field, v)
	default:
		s.writeError(w, http.StatusBadRequest,
			fmt.Errorf("unknown subsystem %q", req.Subsystem))
		return
	}
	if err != nil {
		s.writeScopeError(w, err)
		return
	}
	s.writeJSON(w, s.scope.Settings())
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"presets": scope.PresetNames()})
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.scope.ApplyPreset(req.Name); err != nil {
		s.writeScopeError(w, err)
		return
	}
	s.writeJSON(w, s.scope.Settings())
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Verb string `json:"verb"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.scope.ControlVerb(req.Verb); err != nil {
		s.writeScopeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"verb": req.Verb})
}

func (s *Server) handleSetupExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("path is required"))
		return
	}
	if err := s.scope.ExportSetup(req.Path); err != nil {
		s.writeScopeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"path": req.Path})
}

func (s *Server) handleSetupImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Path string `json:"path"`
		Push bool   `json:"push"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("path is required"))
		return
	}
	if err := s.scope.ImportSetup(req.Path, req.Push); err != nil {
		s.writeScopeError(w, err)
		return
	}
	s.writeJSON(w, s.scope.Settings())
}

// decodeValue maps a JSON scalar onto a wire value: bool, number, or
// enum token string.
func decodeValue(raw json.RawMessage) (scpi.Value, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return scpi.Bool(b), nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return scpi.Float(f), nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return scpi.Enum(str), nil
	}
	return scpi.Value{}, fmt.Errorf("value must be a bool, number, or string")
}

// corsMiddleware allows browser frontends served from another origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": err.Error(),
	})
}

// writeScopeError maps instrument errors onto HTTP statuses: busy is a
// conflict, validation is the caller's fault, transport trouble is a
// bad gateway.
func (s *Server) writeScopeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsBusy(err):
		status = http.StatusConflict
	case errors.IsValidation(err):
		status = http.StatusBadRequest
	case errors.IsTransport(err):
		status = http.StatusBadGateway
	}
	s.writeError(w, status, err)
}

// WebSocket notifications

// notification is the one-way message pushed to WebSocket clients.
type notification struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// broadcastSettingsChanged pushes the changed subsystem's fresh
// snapshot to every connected client.
func (s *Server) broadcastSettingsChanged(subsystem string) {
	msg := notification{
		Method: "notify_settings_changed",
		Params: map[string]any{
			"subsystem": subsystem,
			"settings":  s.scope.Settings(),
		},
	}

	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, c := range s.wsClients {
		c.send(msg)
	}
}

// wsClient is one WebSocket subscriber.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	mu     sync.Mutex
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{
		id:     atomic.AddInt64(&s.nextWSID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, 64),
		done:   make(chan struct{}),
	}

	s.wsClientMu.Lock()
	s.wsClients[c.id] = c
	s.wsClientMu.Unlock()

	s.logger.Info("websocket client %d connected", c.id)

	go c.writePump()

	// Greet with the current state so the client needs no initial GET.
	c.send(notification{
		Method: "notify_settings_changed",
		Params: map[string]any{
			"subsystem": "all",
			"settings":  s.scope.Settings(),
		},
	})

	c.readPump()
}

func (s *Server) removeClient(c *wsClient) {
	s.wsClientMu.Lock()
	delete(s.wsClients, c.id)
	s.wsClientMu.Unlock()
	s.logger.Info("websocket client %d disconnected", c.id)
}

func (c *wsClient) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.logger.Warn("dropping message to websocket client %d (channel full)", c.id)
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

// readPump discards inbound frames (the socket is notify-only) and
// keeps the connection's liveness deadline fresh.
func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.WithError(err).Warn("websocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.WithError(err).Warn("websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
