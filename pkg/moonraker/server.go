// Package moonraker serves host status and accepts g-code over a
// Moonraker-style JSON-RPC API, on HTTP and on a websocket that also
// pushes g-code responses and status updates.
package moonraker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"purgebelt-go/pkg/log"
)

// Version is reported by server.info.
const Version = "v0.1.0-purgebelt"

// PrinterInterface is the host as seen by the API.
type PrinterInterface interface {
	// GetObjectsList returns the names of the queryable objects.
	GetObjectsList() []string

	// GetObjectStatus returns the status of one object, restricted to
	// attrs when attrs is not empty. It returns nil for unknown objects.
	GetObjectStatus(name string, attrs []string) map[string]any

	// ExecuteGCode runs a script of one or more lines.
	ExecuteGCode(ctx context.Context, script string) error

	// GCodeHelp maps command names to their descriptions.
	GCodeHelp() map[string]string

	// GetHostState is one of "startup", "ready", "error" or "shutdown".
	GetHostState() string
}

// Server is the API server.
type Server struct {
	printer PrinterInterface
	history *History
	metrics http.Handler
	log     *log.Logger

	httpServer *http.Server
	addr       string

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	// clientID -> object -> attributes
	subscriptions map[int64]map[string][]string
	subMu         sync.RWMutex

	running   atomic.Bool
	startTime time.Time
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address, for example ":7125".
	Addr string

	Printer PrinterInterface

	// History records purge cycles; nil disables the history methods.
	History *History

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// New creates a server.
func New(cfg Config) *Server {
	s := &Server{
		printer:       cfg.Printer,
		history:       cfg.History,
		metrics:       cfg.Metrics,
		addr:          cfg.Addr,
		log:           log.GetLogger("moonraker"),
		wsClients:     make(map[int64]*WSClient),
		subscriptions: make(map[int64]map[string][]string),
		startTime:     time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)

	mux.HandleFunc("/server/info", s.restGet(func(*http.Request) (any, error) { return s.methodServerInfo() }))
	mux.HandleFunc("/printer/info", s.restGet(func(*http.Request) (any, error) { return s.methodPrinterInfo() }))
	mux.HandleFunc("/printer/objects/list", s.restGet(func(*http.Request) (any, error) { return s.methodObjectsList() }))
	mux.HandleFunc("/printer/objects/query", s.handleObjectsQuery)
	mux.HandleFunc("/printer/gcode/script", s.handleGCodeScript)
	mux.HandleFunc("/printer/gcode/help", s.restGet(func(*http.Request) (any, error) { return s.methodGCodeHelp() }))
	if s.history != nil {
		mux.HandleFunc("/server/history/list", s.restGet(func(r *http.Request) (any, error) {
			return s.methodHistoryList(queryParams(r))
		}))
		mux.HandleFunc("/server/history/totals", s.restGet(func(*http.Request) (any, error) {
			return s.methodHistoryTotals()
		}))
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return s.corsMiddleware(mux)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running.Store(true)
	s.log.Info("API server starting on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("moonraker server: %w", err)
	}
	return nil
}

// Shutdown closes every websocket client and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeServerError    = -32000
)

type methodError struct {
	code int
	err  error
}

func (e *methodError) Error() string { return e.err.Error() }

func errorCode(err error) int {
	if me, ok := err.(*methodError); ok {
		return me.code
	}
	return codeServerError
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: codeParseError, Message: "Parse error"}})
		return
	}
	result, err := s.dispatchMethod(r.Context(), req.Method, req.Params, nil)
	if err != nil {
		s.writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: errorCode(err), Message: err.Error()}, ID: req.ID})
		return
	}
	s.writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (s *Server) dispatchMethod(ctx context.Context, method string, params map[string]any, client *WSClient) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo()
	case "printer.info":
		return s.methodPrinterInfo()
	case "printer.objects.list":
		return s.methodObjectsList()
	case "printer.objects.query":
		return s.methodObjectsQuery(params)
	case "printer.objects.subscribe":
		return s.methodObjectsSubscribe(params, client)
	case "printer.gcode.script":
		return s.methodGCodeScript(ctx, params)
	case "printer.gcode.help":
		return s.methodGCodeHelp()
	case "server.history.list":
		if s.history != nil {
			return s.methodHistoryList(params)
		}
	case "server.history.totals":
		if s.history != nil {
			return s.methodHistoryTotals()
		}
	case "server.connection.identify":
		return s.methodIdentify(params, client)
	}
	return nil, &methodError{codeMethodNotFound, fmt.Errorf("method not found: %s", method)}
}

func (s *Server) hostState() string {
	if s.printer == nil {
		return "startup"
	}
	return s.printer.GetHostState()
}

func (s *Server) methodServerInfo() (any, error) {
	hostname, _ := os.Hostname()
	state := s.hostState()
	s.wsClientMu.RLock()
	wsCount := len(s.wsClients)
	s.wsClientMu.RUnlock()
	return map[string]any{
		"klippy_connected":  state == "ready",
		"klippy_state":      state,
		"components":        []string{"klippy_apis", "history", "metrics"},
		"failed_components": []string{},
		"warnings":          []string{},
		"websocket_count":   wsCount,
		"moonraker_version": Version,
		"hostname":          hostname,
	}, nil
}

func (s *Server) methodPrinterInfo() (any, error) {
	hostname, _ := os.Hostname()
	state := s.hostState()
	message := "Printer is ready"
	if state != "ready" {
		message = "Printer is not ready"
	}
	return map[string]any{
		"state":            state,
		"state_message":    message,
		"hostname":         hostname,
		"software_version": Version,
	}, nil
}

func (s *Server) methodObjectsList() (any, error) {
	objects := []string{}
	if s.printer != nil {
		objects = s.printer.GetObjectsList()
	}
	return map[string]any{"objects": objects}, nil
}

// parseObjects reads {"objects": {"name": null | ["attr", ...]}}.
func parseObjects(params map[string]any) (map[string][]string, error) {
	raw, ok := params["objects"]
	if !ok {
		return nil, fmt.Errorf("missing 'objects' parameter")
	}
	objects, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'objects' must be an object")
	}
	out := make(map[string][]string, len(objects))
	for name, val := range objects {
		var attrs []string
		if list, ok := val.([]any); ok {
			for _, a := range list {
				if str, ok := a.(string); ok {
					attrs = append(attrs, str)
				}
			}
		}
		out[name] = attrs
	}
	return out, nil
}

func (s *Server) eventTime() float64 {
	return float64(time.Since(s.startTime).Milliseconds()) / 1000.0
}

func (s *Server) queryObjects(objects map[string][]string) map[string]any {
	status := make(map[string]any)
	if s.printer == nil {
		return status
	}
	for name, attrs := range objects {
		if st := s.printer.GetObjectStatus(name, attrs); st != nil {
			status[name] = st
		}
	}
	return status
}

func (s *Server) methodObjectsQuery(params map[string]any) (any, error) {
	objects, err := parseObjects(params)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"eventtime": s.eventTime(),
		"status":    s.queryObjects(objects),
	}, nil
}

func (s *Server) methodObjectsSubscribe(params map[string]any, client *WSClient) (any, error) {
	if client == nil {
		return nil, fmt.Errorf("subscription requires a websocket connection")
	}
	objects, err := parseObjects(params)
	if err != nil {
		return nil, err
	}
	s.subMu.Lock()
	s.subscriptions[client.id] = objects
	s.subMu.Unlock()
	return s.methodObjectsQuery(params)
}

func (s *Server) methodGCodeScript(ctx context.Context, params map[string]any) (any, error) {
	script, ok := params["script"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'script' parameter")
	}
	if s.printer == nil {
		return nil, fmt.Errorf("printer is not ready")
	}
	err := s.printer.ExecuteGCode(ctx, script)
	s.NotifyStatusUpdate()
	if err != nil {
		s.NotifyGCodeResponse("!! " + err.Error())
		return nil, err
	}
	return "ok", nil
}

func (s *Server) methodGCodeHelp() (any, error) {
	if s.printer == nil {
		return map[string]string{}, nil
	}
	return s.printer.GCodeHelp(), nil
}

func (s *Server) methodIdentify(params map[string]any, client *WSClient) (any, error) {
	name, _ := params["client_name"].(string)
	if name == "" {
		name = "unknown"
	}
	var id int64
	if client != nil {
		id = client.id
	}
	s.log.WithFields(log.Fields{"client": id, "name": name}).Info("client identified")
	return map[string]any{"connection_id": id}, nil
}

// NotifyGCodeResponse pushes one response line to every websocket
// client.
func (s *Server) NotifyGCodeResponse(msg string) {
	s.broadcast(notification{JSONRPC: "2.0", Method: "notify_gcode_response", Params: []any{msg}})
}

// NotifyStatusUpdate pushes the subscribed objects to each subscriber.
func (s *Server) NotifyStatusUpdate() {
	s.subMu.RLock()
	subs := make(map[int64]map[string][]string, len(s.subscriptions))
	for id, objects := range s.subscriptions {
		subs[id] = objects
	}
	s.subMu.RUnlock()

	eventtime := s.eventTime()
	for id, objects := range subs {
		s.wsClientMu.RLock()
		client, ok := s.wsClients[id]
		s.wsClientMu.RUnlock()
		if !ok {
			continue
		}
		status := s.queryObjects(objects)
		if len(status) == 0 {
			continue
		}
		client.Send(notification{JSONRPC: "2.0", Method: "notify_status_update", Params: []any{status, eventtime}})
	}
}

func (s *Server) broadcast(msg any) {
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, c := range s.wsClients {
		c.Send(msg)
	}
}

// REST handlers

func (s *Server) restGet(fn func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		result, err := fn(r)
		if err != nil {
			s.writeJSONError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{"result": result})
	}
}

func queryParams(r *http.Request) map[string]any {
	params := map[string]any{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

func (s *Server) restPost(w http.ResponseWriter, r *http.Request, fn func(map[string]any) (any, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeJSONError(w, err)
		return
	}
	result, err := fn(params)
	if err != nil {
		s.writeJSONError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleObjectsQuery(w http.ResponseWriter, r *http.Request) {
	s.restPost(w, r, s.methodObjectsQuery)
}

func (s *Server) handleGCodeScript(w http.ResponseWriter, r *http.Request) {
	s.restPost(w, r, func(params map[string]any) (any, error) {
		return s.methodGCodeScript(r.Context(), params)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Warn("write response")
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    errorCode(err),
			"message": err.Error(),
		},
	})
}
