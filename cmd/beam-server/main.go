// beam-server serves beam search decoding over HTTP and websockets. Tasks
// come from an evals suite file; each decode request names a task fixture
// and optionally overrides the search configuration.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soypete/beamdecode/pkg/beam"
	"github.com/soypete/beamdecode/pkg/config"
	"github.com/soypete/beamdecode/pkg/database"
	"github.com/soypete/beamdecode/pkg/evals"
	"github.com/soypete/beamdecode/pkg/metrics"
	"github.com/soypete/beamdecode/pkg/model"
	"github.com/soypete/beamdecode/pkg/storage"
)

// Server handles decode requests against a suite of scripted fixtures.
type Server struct {
	config *config.Config
	tasks  map[string]*evals.Task
	order  []string
	store  *storage.RunStore

	upgrader  websocket.Upgrader
	connMutex sync.Mutex
	conns     map[*websocket.Conn]bool
}

// DecodeRequest names a task and optionally overrides its search settings.
type DecodeRequest struct {
	TaskID string       `json:"task_id"`
	Search *beam.Config `json:"search,omitempty"`
}

// DecodeResponse is the JSON body returned for a completed decode.
type DecodeResponse struct {
	TaskID     string           `json:"task_id"`
	Record     *evals.RunRecord `json:"record"`
	DurationMS int64            `json:"duration_ms"`
}

func main() {
	var (
		addr       = flag.String("addr", "", "Listen address (overrides config)")
		configPath = flag.String("config", "", "Path to config file")
		suitePath  = flag.String("suite", "", "Path to the task suite YAML (required)")
	)
	flag.Parse()

	if *suitePath == "" {
		log.Fatalf("the -suite flag is required")
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	suite, err := evals.LoadSuite(*suitePath)
	if err != nil {
		log.Fatalf("Failed to load suite: %v", err)
	}

	server := &Server{
		config: cfg,
		tasks:  make(map[string]*evals.Task, len(suite.Tasks)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]bool),
	}
	for i := range suite.Tasks {
		task := &suite.Tasks[i]
		server.tasks[task.ID] = task
		server.order = append(server.order, task.ID)
	}

	if cfg.Database != nil {
		db, err := database.New(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		server.store = storage.NewRunStore(db.DB)
		log.Printf("Run persistence enabled (%s:%d/%s)", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	}

	http.HandleFunc("/api/decode", server.handleDecode)
	http.HandleFunc("/api/tasks", server.handleTasks)
	http.HandleFunc("/api/runs", server.handleRuns)
	http.HandleFunc("/ws", server.handleWebSocket)
	http.HandleFunc("/health", server.handleHealth)
	http.Handle("/metrics", promhttp.Handler())

	log.Printf("beam-server listening on %s (%d tasks from %s)", cfg.Server.Addr, len(server.tasks), suite.Name)
	if err := http.ListenAndServe(cfg.Server.Addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// searchConfig resolves the effective search settings for a request: an
// explicit request override wins, then the task's own settings, then the
// server defaults.
func (s *Server) searchConfig(task *evals.Task, req *DecodeRequest) *beam.Config {
	if req.Search != nil {
		return req.Search.Clone()
	}
	if task.Search != nil {
		return task.Search.Clone()
	}
	return s.config.Decode.Clone()
}

// decode runs one search for a request and persists the outcome when a
// store is configured.
func (s *Server) decode(ctx context.Context, task *evals.Task, req *DecodeRequest, onStep beam.StepFunc) (*DecodeResponse, error) {
	search := s.searchConfig(task, req)

	searcher, batch, vocab, err := task.Fixture.Searcher(search)
	if err != nil {
		return nil, err
	}
	if onStep != nil {
		searcher.SetStepFunc(onStep)
	}

	start := time.Now()
	res, err := searcher.Search(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveSearch("error", 0, 0, duration.Seconds())
		s.persistFailure(search, err, duration)
		return nil, err
	}
	metrics.ObserveSearch("ok", res.Steps, res.Completed, duration.Seconds())

	words := model.DecodeIDs(vocab, res.Best.Tokens, batch.OOVWords)
	record := &evals.RunRecord{
		Tokens:     res.Best.Tokens,
		Words:      words,
		Text:       strings.Join(words, " "),
		AvgLogProb: res.Best.AvgLogProb(),
		Steps:      res.Steps,
		Completed:  res.Completed,
	}

	if s.store != nil {
		run, err := storage.NewDecodeRun(search, res, words, duration)
		if err == nil {
			err = s.store.Save(ctx, run)
		}
		if err != nil {
			log.Printf("Failed to persist run for task %s: %v", task.ID, err)
		}
	}

	return &DecodeResponse{
		TaskID:     task.ID,
		Record:     record,
		DurationMS: duration.Milliseconds(),
	}, nil
}

func (s *Server) persistFailure(search *beam.Config, runErr error, duration time.Duration) {
	if s.store == nil {
		return
	}
	run, err := storage.NewFailedRun(search, runErr, duration)
	if err == nil {
		err = s.store.Save(context.Background(), run)
	}
	if err != nil {
		log.Printf("Failed to persist failed run: %v", err)
	}
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req DecodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	task, ok := s.tasks[req.TaskID]
	if !ok {
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("unknown task: %s", req.TaskID))
		return
	}

	resp, err := s.decode(r.Context(), task, &req, nil)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type taskInfo struct {
		ID          string   `json:"id"`
		Description string   `json:"description,omitempty"`
		Tags        []string `json:"tags,omitempty"`
	}
	infos := make([]taskInfo, 0, len(s.order))
	for _, id := range s.order {
		task := s.tasks[id]
		infos = append(infos, taskInfo{ID: task.ID, Description: task.Description, Tags: task.Tags})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"tasks": infos})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		s.writeError(w, r, http.StatusNotImplemented, "run persistence is not configured")
		return
	}

	var runs []*storage.DecodeRun
	var err error
	if status := r.URL.Query().Get("status"); status != "" {
		runs, err = s.store.ListByStatus(r.Context(), storage.RunStatus(status), 0)
	} else {
		runs, err = s.store.List(r.Context(), 0)
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"runs": runs})
}

// wsMessage frames everything sent over a decode websocket.
type wsMessage struct {
	Type   string          `json:"type"`
	Step   *beam.StepEvent `json:"step,omitempty"`
	Result *DecodeResponse `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// handleWebSocket streams decode progress. The client sends one
// DecodeRequest; the server answers with a "step" frame per decode step
// and closes with a "result" or "error" frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.connMutex.Lock()
	s.conns[conn] = true
	s.connMutex.Unlock()
	defer func() {
		s.connMutex.Lock()
		delete(s.conns, conn)
		s.connMutex.Unlock()
	}()

	for {
		var req DecodeRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		task, ok := s.tasks[req.TaskID]
		if !ok {
			conn.WriteJSON(wsMessage{Type: "error", Error: fmt.Sprintf("unknown task: %s", req.TaskID)})
			continue
		}

		resp, err := s.decode(r.Context(), task, &req, func(ev beam.StepEvent) {
			conn.WriteJSON(wsMessage{Type: "step", Step: &ev})
		})
		if err != nil {
			conn.WriteJSON(wsMessage{Type: "error", Error: err.Error()})
			continue
		}
		if err := conn.WriteJSON(wsMessage{Type: "result", Result: resp}); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"tasks":  len(s.tasks),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, fmt.Sprintf("%d", status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, map[string]string{"error": msg})
}
