package httpapi

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/example/speech-trainer/api-go/internal/apperr"
	"github.com/example/speech-trainer/api-go/internal/catalog"
	"github.com/example/speech-trainer/api-go/internal/lexicon"
	"github.com/example/speech-trainer/api-go/internal/model"
	"github.com/example/speech-trainer/api-go/internal/modelfs"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type modelRow struct {
	model.SpeechModel
	Size       string
	Downloaded bool
	Busy       bool
}

func (s Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		writeErr(w, fmt.Errorf("render %s: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	rows := lo.Map(s.Catalog.Models(), func(m model.SpeechModel, _ int) modelRow {
		return modelRow{
			SpeechModel: m,
			Size:        catalog.SizeLabel(m),
			Downloaded:  s.Layout.IsDownloaded(m.ID),
			Busy:        s.Runner.Busy(m.ID),
		}
	})
	s.render(w, "index.html", map[string]any{
		"Base":   s.link(r, "", nil),
		"Models": rows,
	})
}

func (s Server) handleManage(w http.ResponseWriter, r *http.Request) {
	id, err := modelParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	suffix, err := suffixParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.Layout.IsDownloaded(id) {
		writeErr(w, apperr.NotFound("model not downloaded: %s", id))
		return
	}

	suffixes, err := s.Layout.Suffixes(id)
	if err != nil {
		writeErr(w, fmt.Errorf("list suffixes: %w", err))
		return
	}
	var recent []model.Job
	if s.Jobs != nil {
		recent, err = s.Jobs.ListJobs(r.Context(), id, 10)
		if err != nil {
			s.logger().Error("list jobs", "model", id, "err", err)
		}
	}

	s.render(w, "manage.html", map[string]any{
		"Base":         s.link(r, "", nil),
		"ID":           id,
		"Suffix":       suffix,
		"Suffixes":     suffixes,
		"HasSentences": s.Layout.HasSentences(id, suffix),
		"Busy":         s.Runner.Busy(id),
		"Jobs":         recent,
		"Query":        template.URL(modelQuery(id, suffix).Encode()),
	})
}

func (s Server) handleDownloadPage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	m, ok := s.Catalog.Get(id)
	if !ok {
		writeErr(w, apperr.NotFound("unknown model: %s", id))
		return
	}
	s.render(w, "download.html", map[string]any{
		"Base":  s.link(r, "", nil),
		"Model": m,
		"Size":  catalog.SizeLabel(m),
	})
}

func (s Server) handleSentences(w http.ResponseWriter, r *http.Request) {
	id, err := modelParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	suffix, err := suffixParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	data := map[string]any{
		"Base":   s.link(r, "", nil),
		"ID":     id,
		"Suffix": suffix,
		"Query":  template.URL(modelQuery(id, suffix).Encode()),
	}

	if r.Method == http.MethodPost {
		text := r.FormValue("sentences")
		if err := modelfs.ValidateSentences(text); err != nil {
			data["Sentences"] = text
			data["Error"] = err.Error()
			s.render(w, "sentences.html", data)
			return
		}
		if err := s.Layout.WriteSentences(id, suffix, text); err != nil {
			writeErr(w, fmt.Errorf("save sentences: %w", err))
			return
		}
		s.redirect(w, r, "/manage", modelQuery(id, suffix))
		return
	}

	text, err := s.Layout.ReadSentences(id, suffix)
	if err != nil {
		writeErr(w, fmt.Errorf("read sentences: %w", err))
		return
	}
	data["Sentences"] = text
	s.render(w, "sentences.html", data)
}

func (s Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := modelParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	suffix, err := suffixParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if s.Runner.Busy(id) {
		writeErr(w, apperr.Conflict(fmt.Sprintf("model %s has a running job", id), nil))
		return
	}
	if err := s.Layout.Delete(id, suffix); err != nil {
		writeErr(w, err)
		return
	}
	s.logger().Info("model deleted", "model", id, "suffix", suffix)
	s.redirect(w, r, "/", nil)
}

func (s Server) handleWords(w http.ResponseWriter, r *http.Request) {
	id, err := modelParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	data := map[string]any{
		"Base": s.link(r, "", nil),
		"ID":   id,
	}
	if r.Method != http.MethodPost {
		s.render(w, "words.html", data)
		return
	}

	words := r.FormValue("words")
	data["Words"] = words
	if strings.TrimSpace(words) == "" {
		s.render(w, "words.html", data)
		return
	}

	db, err := lexicon.Open(s.Layout.LexiconPath(id))
	if err != nil {
		writeErr(w, err)
		return
	}
	defer db.Close()

	resolver := lexicon.Resolver{
		Lexicon:  db,
		Guesser:  s.Guesser,
		G2PModel: s.Layout.G2PPath(id),
	}
	res, err := resolver.Resolve(r.Context(), words)
	if err != nil {
		writeErr(w, err)
		return
	}
	data["Found"] = res.FoundText()
	data["Guessed"] = res.GuessedText()
	data["Missing"] = res.Missing
	s.render(w, "words.html", data)
}
