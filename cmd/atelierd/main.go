// Command atelierd runs the editing engine behind a small JSON control
// plane. It is the serving shell around pkg/engine: documents, selections,
// tool chains and history are all driven over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/atelier/examples/retouch"
	"github.com/wilhg/atelier/pkg/document/memdoc"
	"github.com/wilhg/atelier/pkg/engine"
	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/event"
	"github.com/wilhg/atelier/pkg/eventstore"
	"github.com/wilhg/atelier/pkg/execution"
	"github.com/wilhg/atelier/pkg/history"
	"github.com/wilhg/atelier/pkg/otel"
	"github.com/wilhg/atelier/pkg/toolchain"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

type config struct {
	Addr        string `env:"ATELIER_ADDR" envDefault:":8080"`
	ServiceName string `env:"ATELIER_SERVICE_NAME" envDefault:"atelierd"`
	TraceStdout bool   `env:"ATELIER_TRACE_STDOUT"`
}

func main() {
	var showVersion bool
	var addr string

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&addr, "addr", cfg.Addr, "http listen address")
	flag.Parse()

	if showVersion {
		fmt.Printf("atelierd %s (commit=%s, date=%s)\n", version, commit, date)
		return
	}

	ctx := context.Background()
	shutdown, err := otel.Init(ctx, otel.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		UseStdout:      cfg.TraceStdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "otel error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = shutdown(ctx) }()

	eng := engine.New(engine.Options{})
	defer func() { _ = eng.Close() }()
	if err := retouch.Register(eng.Registry()); err != nil {
		fmt.Fprintf(os.Stderr, "tool registration error: %v\n", err)
		os.Exit(1)
	}

	handler := otelhttp.NewHandler(buildMux(eng), "atelierd")
	server := &http.Server{Addr: addr, Handler: handler}
	slog.Info("listening", "addr", addr, "version", version)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// controlPlane holds the documents the daemon is editing.
type controlPlane struct {
	eng *engine.Engine

	mu   sync.Mutex
	docs map[string]*memdoc.Doc
}

func buildMux(eng *engine.Engine) *http.ServeMux {
	cp := &controlPlane{eng: eng, docs: make(map[string]*memdoc.Doc)}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /api/documents", cp.createDocument)
	mux.HandleFunc("GET /api/documents", cp.getDocument)
	mux.HandleFunc("POST /api/objects", cp.createObject)
	mux.HandleFunc("POST /api/selection", cp.setSelection)
	mux.HandleFunc("POST /api/chains", cp.runChain)
	mux.HandleFunc("POST /api/history/undo", cp.undo)
	mux.HandleFunc("POST /api/history/redo", cp.redo)
	mux.HandleFunc("GET /api/events", cp.listEvents)
	return mux
}

func (cp *controlPlane) doc(id string) (*memdoc.Doc, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	d, ok := cp.docs[id]
	return d, ok
}

func (cp *controlPlane) createDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" {
		http.Error(w, "document_id required", http.StatusBadRequest)
		return
	}
	cp.mu.Lock()
	if _, exists := cp.docs[req.DocumentID]; exists {
		cp.mu.Unlock()
		http.Error(w, "document exists", http.StatusConflict)
		return
	}
	d := memdoc.New(req.DocumentID)
	cp.docs[req.DocumentID] = d
	cp.mu.Unlock()
	// Subscribe history before any edits so every commit is undoable.
	if _, err := cp.eng.History(d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"document_id": req.DocumentID})
}

func (cp *controlPlane) getDocument(w http.ResponseWriter, r *http.Request) {
	d, ok := cp.doc(r.URL.Query().Get("doc"))
	if !ok {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"document_id": d.ID(),
		"objects":     d.Len(),
		"selection":   d.SelectedIDs(),
	})
}

func (cp *controlPlane) createObject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string         `json:"document_id"`
		ObjectID   string         `json:"object_id"`
		Type       string         `json:"type"`
		Props      map[string]any `json:"props"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, ok := cp.doc(req.DocumentID)
	if !ok {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}
	props, err := json.Marshal(req.Props)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	delta, err := event.CreateObject(req.ObjectID, event.ObjectState{Type: req.Type, Props: props})
	if err != nil {
		writeError(w, err)
		return
	}
	ec, err := cp.eng.CreateContext(d, event.ActorUser, execution.Options{})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := ec.Emit(event.New("object.create", delta)); err != nil {
		writeError(w, err)
		return
	}
	if _, err := ec.Commit(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"object_id": req.ObjectID})
}

func (cp *controlPlane) setSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string   `json:"document_id"`
		ObjectIDs  []string `json:"object_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, ok := cp.doc(req.DocumentID)
	if !ok {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}
	d.SetSelection(req.ObjectIDs)
	writeJSON(w, map[string]any{"selection": d.SelectedIDs()})
}

type chainRequest struct {
	DocumentID        string      `json:"document_id"`
	Actor             event.Actor `json:"actor"`
	PreserveSelection bool        `json:"preserve_selection"`
	Steps             []struct {
		Tool            string         `json:"tool"`
		Params          map[string]any `json:"params"`
		ContinueOnError bool           `json:"continue_on_error"`
		TimeoutMS       int64          `json:"timeout_ms"`
	} `json:"steps"`
}

func (cp *controlPlane) runChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, ok := cp.doc(req.DocumentID)
	if !ok {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = event.ActorUser
	}
	steps := make([]toolchain.Step, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = toolchain.Step{
			Tool:            s.Tool,
			Params:          s.Params,
			ContinueOnError: s.ContinueOnError,
			Timeout:         time.Duration(s.TimeoutMS) * time.Millisecond,
		}
	}
	ec, err := cp.eng.CreateContext(d, actor, execution.Options{})
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := ec.Run(r.Context(), steps, toolchain.Options{PreserveSelection: req.PreserveSelection})
	if err != nil {
		_ = ec.Rollback()
		writeError(w, err)
		return
	}
	committed := 0
	if res.Success {
		evs, err := ec.Commit(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		committed = len(evs)
	} else if err := ec.Rollback(); err != nil {
		writeError(w, err)
		return
	}
	type stepOut struct {
		Tool      string `json:"tool"`
		Success   bool   `json:"success"`
		Error     string `json:"error,omitempty"`
		ElapsedMS int64  `json:"elapsed_ms"`
	}
	out := struct {
		Success   bool      `json:"success"`
		Committed int       `json:"committed_events"`
		Steps     []stepOut `json:"steps"`
	}{Success: res.Success, Committed: committed}
	for _, s := range res.Steps {
		so := stepOut{Tool: s.Tool, Success: s.Success, ElapsedMS: s.Elapsed.Milliseconds()}
		if s.Err != nil {
			so.Error = s.Err.Error()
		}
		out.Steps = append(out.Steps, so)
	}
	writeJSON(w, out)
}

func (cp *controlPlane) undo(w http.ResponseWriter, r *http.Request) {
	cp.history(w, r, (*history.Manager).Undo)
}

func (cp *controlPlane) redo(w http.ResponseWriter, r *http.Request) {
	cp.history(w, r, (*history.Manager).Redo)
}

func (cp *controlPlane) history(w http.ResponseWriter, r *http.Request, op func(*history.Manager) error) {
	var req struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, ok := cp.doc(req.DocumentID)
	if !ok {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}
	h, err := cp.eng.History(d)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := op(h); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"undo_depth": h.UndoCount(), "redo_depth": h.RedoCount()})
}

func (cp *controlPlane) listEvents(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("doc")
	if _, ok := cp.doc(docID); !ok {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}
	after := int64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "after must be an integer", http.StatusBadRequest)
			return
		}
		after = n
	}
	evs := cp.eng.Store().Query(eventstore.Query{DocumentID: docID, AfterSeq: after})
	writeJSON(w, map[string]any{"events": evs})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps structured engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errmodel.IsCategory(err, errmodel.CategoryValidation):
		status = http.StatusBadRequest
	case errmodel.IsCategory(err, errmodel.CategoryTool):
		status = http.StatusUnprocessableEntity
	case errmodel.IsCategory(err, errmodel.CategoryHistory):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
