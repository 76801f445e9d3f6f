package broker

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/doscope/doscope/go/capture"
	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
)

// Server wires the HTTP API and the WebSocket multiplexer around the
// backend holder.
type Server struct {
	Holder    *Holder
	Factory   Factory
	Workspace *models.Workspace

	// Defaults seeds GET /api/launch/defaults.
	Defaults models.LaunchConfig

	// events carries backend events and capture stages to WS clients;
	// attach re-points the forwarder when the holder is reseated
	events *models.Emitter

	attachMu sync.Mutex
	detach   func()
}

func NewServer(holder *Holder, factory Factory, ws *models.Workspace) *Server {
	s := &Server{
		Holder:    holder,
		Factory:   factory,
		Workspace: ws,
		events:    &models.Emitter{},
	}
	if b := holder.Get(); b != nil {
		s.attach(b)
	}
	return s
}

// attach forwards a backend's event stream into the broker emitter,
// replacing any previous forwarder.
func (s *Server) attach(b models.Backend) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
	if b == nil {
		return
	}
	events, cancel := b.Events()
	s.detach = cancel
	go func() {
		for ev := range events {
			s.events.Emit(ev)
		}
	}()
}

// Handler builds the route table: a plain mux with method switches in
// the handlers, wrapped in CORS and request logging.
func (s *Server) Handler(origins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/backend", s.handleBackend)
	mux.HandleFunc("/api/backend/select", s.handleBackendSelect)
	mux.HandleFunc("/api/launch/defaults", s.handleLaunchDefaults)
	mux.HandleFunc("/api/launch", s.handleLaunch)
	mux.HandleFunc("/api/registers", s.handleRegisters)
	mux.HandleFunc("/api/memory/", s.handleMemory)
	mux.HandleFunc("/api/screenshot", s.handleScreenshot)
	mux.HandleFunc("/api/keys", s.handleKeys)
	mux.HandleFunc("/api/breakpoints", s.handleBreakpoints)
	mux.HandleFunc("/api/breakpoints/", s.handleBreakpointByID)
	mux.HandleFunc("/api/execution/", s.handleExecution)
	mux.HandleFunc("/api/snapshots", s.handleSnapshots)
	mux.HandleFunc("/api/states", s.handleStates)
	mux.HandleFunc("/api/captures", s.handleCaptures)
	mux.HandleFunc("/api/golden/", s.handleGolden)
	mux.HandleFunc("/ws", s.handleWS)

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return logRequests(c.Handler(mux))
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logx.Debugf("http", "%s %s %s", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if models.IsArgument(err) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// backend fetches the current backend, answering 503 when the slot is
// empty. Callers must return when ok is false.
func (s *Server) backend(w http.ResponseWriter) (models.Backend, bool) {
	b := s.Holder.Get()
	if b == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no backend selected"})
		return nil, false
	}
	return b, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func (s *Server) handleBackend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	b := s.Holder.Get()
	if b == nil {
		writeJSON(w, http.StatusOK, models.StatusInfo{Backend: "none", Status: models.Disconnected})
		return
	}
	writeJSON(w, http.StatusOK, b.Status())
}

func (s *Server) handleBackendSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.Factory == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no backend factory"})
		return
	}
	var req struct {
		Backend string `json:"backend"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Argumentf("bad json: %v", err))
		return
	}
	if req.Backend != "qemu" && req.Backend != "dosbox" {
		writeError(w, models.Argumentf("unknown backend %q", req.Backend))
		return
	}
	next, err := s.Factory(req.Backend)
	if err != nil {
		writeError(w, err)
		return
	}
	old := s.Holder.Swap(next)
	s.attach(next)
	if old != nil {
		if err := old.Shutdown(); err != nil {
			logx.Warnf("broker", "shutting down %s: %v", old.Kind(), err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"backend": next.Kind()})
}

func (s *Server) handleLaunchDefaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.Defaults)
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		b, ok := s.backend(w)
		if !ok {
			return
		}
		var cfg models.LaunchConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, models.Argumentf("bad json: %v", err))
			return
		}
		if err := cfg.Validate(); err != nil {
			writeError(w, err)
			return
		}
		if err := b.Launch(r.Context(), &cfg); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b.Status())
	case http.MethodDelete:
		b, ok := s.backend(w)
		if !ok {
			return
		}
		if err := b.Shutdown(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b.Status())
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRegisters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	b, ok := s.backend(w)
	if !ok {
		return
	}
	regs, err := b.RegRead(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, regs)
}

// handleMemory serves GET /api/memory/{addr}/{size} and POST
// /api/memory/{addr}.
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/memory/")
	parts := strings.Split(rest, "/")
	switch r.Method {
	case http.MethodGet:
		if len(parts) != 2 {
			writeError(w, models.Argumentf("want /api/memory/{addr}/{size}"))
			return
		}
		addr, err := models.ParseAddress(parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		size, err := strconv.Atoi(parts[1])
		if err != nil || size < 0 {
			writeError(w, models.Argumentf("bad size %q", parts[1]))
			return
		}
		b, ok := s.backend(w)
		if !ok {
			return
		}
		data, err := b.MemRead(r.Context(), addr, size)
		if err != nil {
			writeError(w, err)
			return
		}
		if r.URL.Query().Get("format") == "raw" {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(data)
			return
		}
		sum := sha256.Sum256(data)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address": addr.String(),
			"size":    len(data),
			"data":    base64.StdEncoding.EncodeToString(data),
			"sha256":  hex.EncodeToString(sum[:]),
		})
	case http.MethodPost:
		if len(parts) != 1 || parts[0] == "" {
			writeError(w, models.Argumentf("want /api/memory/{addr}"))
			return
		}
		addr, err := models.ParseAddress(parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		var req struct {
			Data string `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, models.Argumentf("bad json: %v", err))
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			writeError(w, models.Argumentf("bad base64 payload: %v", err))
			return
		}
		b, ok := s.backend(w)
		if !ok {
			return
		}
		if err := b.MemWrite(r.Context(), addr, data); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"written": len(data)})
	default:
		methodNotAllowed(w)
	}
}

func contentTypeFor(format string) string {
	switch format {
	case "ppm":
		return "image/x-portable-pixmap"
	case "bmp":
		return "image/bmp"
	case "png":
		return "image/png"
	}
	return "application/octet-stream"
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	b, ok := s.backend(w)
	if !ok {
		return
	}
	shot, err := b.Screenshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "png" {
		shot, err = capture.ToPNG(shot)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	w.Header().Set("Content-Type", contentTypeFor(shot.Format))
	w.Write(shot.Data)
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	b, ok := s.backend(w)
	if !ok {
		return
	}
	var req struct {
		Keys    []string `json:"keys"`
		DelayMS int      `json:"delayMs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Argumentf("bad json: %v", err))
		return
	}
	if len(req.Keys) == 0 {
		writeError(w, models.Argumentf("no keys given"))
		return
	}
	delay := time.Duration(req.DelayMS) * time.Millisecond
	if err := b.SendKeys(r.Context(), req.Keys, delay); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": len(req.Keys)})
}

func (s *Server) handleBreakpoints(w http.ResponseWriter, r *http.Request) {
	b, ok := s.backend(w)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := b.BreakList(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []*models.Breakpoint{}
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req struct {
			Address string `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, models.Argumentf("bad json: %v", err))
			return
		}
		bp, err := models.ParseBreak(req.Address)
		if err != nil {
			writeError(w, err)
			return
		}
		added, err := b.BreakAdd(r.Context(), bp)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, added)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBreakpointByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	b, ok := s.backend(w)
	if !ok {
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/breakpoints/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		writeError(w, models.Argumentf("bad breakpoint id %q", idStr))
		return
	}
	if err := b.BreakDel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": id})
}

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	b, ok := s.backend(w)
	if !ok {
		return
	}
	verb := strings.TrimPrefix(r.URL.Path, "/api/execution/")
	switch verb {
	case "pause":
		if err := b.Pause(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b.Status())
	case "resume":
		if err := b.Resume(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b.Status())
	case "step":
		regs, err := b.Step(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, regs)
	default:
		writeError(w, models.Argumentf("unknown execution verb %q", verb))
	}
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	b, ok := s.backend(w)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		snaps, err := b.SnapshotList(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if snaps == nil {
			snaps = []models.Snapshot{}
		}
		writeJSON(w, http.StatusOK, snaps)
	case http.MethodPost:
		var req struct {
			Action string `json:"action"`
			Name   string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, models.Argumentf("bad json: %v", err))
			return
		}
		if req.Name == "" {
			writeError(w, models.Argumentf("snapshot name required"))
			return
		}
		var err error
		switch req.Action {
		case "save":
			err = b.SnapshotSave(r.Context(), req.Name)
		case "load":
			err = b.SnapshotLoad(r.Context(), req.Name)
		default:
			writeError(w, models.Argumentf("bad action %q", req.Action))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"action": req.Action, "name": req.Name})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	b, ok := s.backend(w)
	if !ok {
		return
	}
	lister, ok := b.(models.StateLister)
	if !ok {
		writeError(w, models.NotSupported(b.Kind(), "save states"))
		return
	}
	states, err := lister.States(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if states == nil {
		states = []models.SaveState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) runner(b models.Backend) *capture.Runner {
	return &capture.Runner{Backend: b, Workspace: s.Workspace, Events: s.events}
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		groups, err := capture.Inventory(s.Workspace.CapturesDir())
		if err != nil {
			writeError(w, err)
			return
		}
		if groups == nil {
			groups = []capture.Group{}
		}
		writeJSON(w, http.StatusOK, groups)
	case http.MethodPost:
		b, ok := s.backend(w)
		if !ok {
			return
		}
		var req models.CaptureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, models.Argumentf("bad json: %v", err))
			return
		}
		res, err := s.runner(b).Run(r.Context(), &req, s.Workspace.CapturesDir())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleGolden(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	b, ok := s.backend(w)
	if !ok {
		return
	}
	verb := strings.TrimPrefix(r.URL.Path, "/api/golden/")
	var req models.CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Argumentf("bad json: %v", err))
		return
	}
	switch verb {
	case "generate":
		res, err := s.runner(b).Generate(r.Context(), &req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "compare":
		report, err := s.runner(b).Compare(r.Context(), &req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, models.Argumentf("unknown golden verb %q", verb))
	}
}

// ListenAndServe runs the broker until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string, origins []string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(origins)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logx.Infof("broker", "listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
