// Package api serves stored evolution diagrams over HTTP and starts new
// sweeps in the background.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/config"
	"github.com/banshee-data/bundle.evolution/internal/diagramdb"
	"github.com/banshee-data/bundle.evolution/internal/evolution"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
	"github.com/banshee-data/bundle.evolution/internal/report"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

// maxConfigBody bounds POST /api/runs bodies.
const maxConfigBody = 1 << 20

// Server exposes one trajectory set and its stored diagrams.
type Server struct {
	store        *diagramdb.Store
	trajectories []*trajectory.Trajectory
	defaults     *config.EvolutionConfig
	attrs        *evolution.AttributeRegistry

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	builder *evolution.Builder
	running bool
	lastRun string
	lastErr string
}

// NewServer returns a server for trajectories backed by store. defaults
// supplies every sweep parameter a request leaves out.
func NewServer(store *diagramdb.Store, trajectories []*trajectory.Trajectory, defaults *config.EvolutionConfig) *Server {
	if defaults == nil {
		defaults = config.DefaultEvolutionConfig()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		store:        store,
		trajectories: trajectories,
		defaults:     defaults,
		attrs:        evolution.DefaultAttributes(),
		ctx:          ctx,
		stop:         stop,
	}
}

// Close aborts any running sweep and waits for it to be stored.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

// Wait blocks until no sweep is running.
func (s *Server) Wait() { s.wg.Wait() }

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("POST /api/runs", s.startRun)
	mux.HandleFunc("GET /api/runs/status", s.runStatus)
	mux.HandleFunc("POST /api/runs/abort", s.abortRun)
	mux.HandleFunc("GET /api/runs/{id}", s.showRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/chart", s.showChart)
	mux.HandleFunc("GET /api/runs/{id}/lifespans.png", s.showLifespanPNG)
	mux.HandleFunc("GET /api/attributes", s.listAttributes)
	return mux
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []diagramdb.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// requestConfig layers the request body over the server defaults.
func (s *Server) requestConfig(body io.Reader) (*config.EvolutionConfig, error) {
	base, err := json.Marshal(s.defaults)
	if err != nil {
		return nil, err
	}
	cfg := config.EmptyEvolutionConfig()
	if err := json.Unmarshal(base, cfg); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(body, maxConfigBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config JSON: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// startRun starts a sweep with the posted config. ?extend=<run id> resumes a
// stored run instead of starting from an empty diagram.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.requestConfig(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []evolution.Option
	if extend := r.URL.Query().Get("extend"); extend != "" {
		d, _, err := s.store.LoadRun(r.Context(), extend, s.trajectories)
		if err != nil {
			writeError(w, err)
			return
		}
		opts = append(opts, evolution.WithInitialDiagram(d))
	}

	builderCfg := cfg.ToBuilderConfig()
	b, err := evolution.NewBuilder(builderCfg, bundle.FreeSpaceGenerator{MaxEntries: cfg.GetRTreeMaxEntries()}, opts...)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeJSONError(w, http.StatusConflict, "a sweep is already running")
		return
	}
	s.builder, s.running = b, true
	s.lastRun, s.lastErr = "", ""
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(b, builderCfg)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "started", "config": builderCfg})
}

func (s *Server) run(b *evolution.Builder, cfg evolution.Config) {
	defer s.wg.Done()
	d := b.Run(s.ctx, s.trajectories)
	status := evolution.StatusComplete
	if b.Aborted() {
		status = evolution.StatusAborted
	}

	// Store with a fresh context so aborted sweeps are kept.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	id, err := s.store.SaveRun(ctx, cfg, status, len(s.trajectories), d, s.attrs)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		monitoring.Warnf(monitoring.TagStore, "failed to save run: %v", err)
		s.lastErr = err.Error()
		return
	}
	s.lastRun = id
}

type statusResponse struct {
	evolution.BuildState
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) runStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := statusResponse{BuildState: evolution.BuildState{Status: evolution.StatusIdle}, RunID: s.lastRun, Error: s.lastErr}
	if s.builder != nil {
		resp.BuildState = s.builder.State()
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) abortRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	b, running := s.builder, s.running
	s.mu.Unlock()
	if !running {
		writeJSONError(w, http.StatusConflict, "no sweep is running")
		return
	}
	b.Abort()
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborting"})
}

// classView is the JSON form of one class.
type classView struct {
	Class      int                 `json:"class"`
	Birth      float64             `json:"birth"`
	Merge      *float64            `json:"merge,omitempty"`
	MergedInto *int                `json:"merged_into,omitempty"`
	Attributes map[string]*float64 `json:"attributes"`
}

type runView struct {
	*diagramdb.RunSummary
	Epsilons []float64   `json:"epsilons"`
	Classes  []classView `json:"classes"`
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*evolution.Diagram, *diagramdb.RunSummary, bool) {
	d, summary, err := s.store.LoadRun(r.Context(), r.PathValue("id"), s.trajectories)
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	return d, summary, true
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	d, summary, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	attrs, err := s.store.ClassAttributes(r.Context(), summary.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	view := runView{RunSummary: summary, Epsilons: d.Epsilons(), Classes: []classView{}}
	for _, c := range d.Classes() {
		cv := classView{Class: c, Attributes: make(map[string]*float64)}
		cv.Birth, _ = d.BirthMoment(c)
		if m, ok := d.MergeMoment(c); ok {
			into, _ := d.MergedInto(c)
			cv.Merge, cv.MergedInto = &m, &into
		}
		// NaN is not valid JSON; undefined attributes encode as null.
		for name, v := range attrs[c] {
			if math.IsNaN(v) {
				cv.Attributes[name] = nil
				continue
			}
			cv.Attributes[name] = &v
		}
		view.Classes = append(view.Classes, cv)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	d, _, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.RenderHTML(&buf, d); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) showLifespanPNG(w http.ResponseWriter, r *http.Request) {
	d, summary, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteLifespanPNG(&buf, d, "Run "+summary.ID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

type attributeView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) listAttributes(w http.ResponseWriter, r *http.Request) {
	out := []attributeView{}
	for _, name := range s.attrs.Names() {
		a, _ := s.attrs.Get(name)
		out = append(out, attributeView{Name: a.Name, Description: a.Description})
	}
	writeJSON(w, http.StatusOK, out)
}
