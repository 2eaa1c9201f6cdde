package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/speech-trainer/api-go/internal/apperr"
	"github.com/example/speech-trainer/api-go/internal/catalog"
	"github.com/example/speech-trainer/api-go/internal/download"
	"github.com/example/speech-trainer/api-go/internal/hass"
	"github.com/example/speech-trainer/api-go/internal/jobs"
	"github.com/example/speech-trainer/api-go/internal/lexicon"
	"github.com/example/speech-trainer/api-go/internal/model"
	"github.com/example/speech-trainer/api-go/internal/modelfs"
	"github.com/example/speech-trainer/api-go/internal/training"
)

// JobHistory is the read side of the job store.
type JobHistory interface {
	GetJob(ctx context.Context, id string) (model.Job, error)
	ListJobs(ctx context.Context, modelID string, limit int) ([]model.Job, error)
}

type Server struct {
	Layout     modelfs.Layout
	Catalog    catalog.Catalog
	Runner     *jobs.Runner
	Jobs       JobHistory // optional
	Downloader download.Downloader
	Trainer    training.Trainer
	Guesser    lexicon.Guesser // optional
	Hass       *hass.Client    // nil when no token is configured

	ToolsDir      string
	DecodeMode    string
	RescoreOrder  int
	StreamTimeout time.Duration
	Ingress       bool // prefix redirects with X-Ingress-Path
	Logger        *slog.Logger
}

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/", s.handleIndex)
	r.Get("/manage", s.handleManage)
	r.Get("/download", s.handleDownloadPage)
	r.Get("/sentences", s.handleSentences)
	r.Post("/sentences", s.handleSentences)
	r.Get("/delete", s.handleDelete)
	r.Post("/delete", s.handleDelete)
	r.Get("/words", s.handleWords)
	r.Post("/words", s.handleWords)

	r.Route("/api", func(r chi.Router) {
		r.Post("/download", s.handleDownload)
		r.Post("/train", s.handleTrain)
		r.Post("/hass_exposed", s.handleHassExposed)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
	})

	return r
}

func (s Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// modelParam reads and checks the id query parameter.
func modelParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		return "", apperr.Validation("missing id")
	}
	if !modelfs.ValidID(id) {
		return "", apperr.Validation("invalid id: %s", id)
	}
	return id, nil
}

// suffixParam reads the optional suffix query parameter.
func suffixParam(r *http.Request) (string, error) {
	suffix := strings.TrimSpace(r.URL.Query().Get("suffix"))
	if suffix != "" && !modelfs.ValidID(suffix) {
		return "", apperr.Validation("invalid suffix: %s", suffix)
	}
	return suffix, nil
}

func (s Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.Jobs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []model.Job{}})
		return
	}
	modelID := strings.TrimSpace(r.URL.Query().Get("id"))
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeErr(w, apperr.Validation("invalid limit: %s", raw))
			return
		}
		limit = parsed
	}

	list, err := s.Jobs.ListJobs(r.Context(), modelID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if s.Jobs == nil {
		writeErr(w, apperr.NotFound("job not found: %s", id))
		return
	}
	job, err := s.Jobs.GetJob(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeErr(w, apperr.NotFound("job not found: %s", id))
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// redirect sends the client to path, behind the ingress prefix when enabled.
func (s Server) redirect(w http.ResponseWriter, r *http.Request, path string, q url.Values) {
	http.Redirect(w, r, s.link(r, path, q), http.StatusSeeOther)
}

func (s Server) link(r *http.Request, path string, q url.Values) string {
	target := path
	if s.Ingress {
		target = strings.TrimRight(r.Header.Get("X-Ingress-Path"), "/") + path
	}
	if encoded := q.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target
}

func modelQuery(id, suffix string) url.Values {
	q := url.Values{"id": {id}}
	if suffix != "" {
		q.Set("suffix", suffix)
	}
	return q
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, text)
}

// writeErr renders err as "<kind>: <message>" with the status of its kind.
func writeErr(w http.ResponseWriter, err error) {
	writeText(w, apperr.Status(err), apperr.Text(err)+"\n")
}
