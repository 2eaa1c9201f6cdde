package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/example/speech-trainer/api-go/internal/apperr"
	"github.com/example/speech-trainer/api-go/internal/catalog"
	"github.com/example/speech-trainer/api-go/internal/joblog"
	"github.com/example/speech-trainer/api-go/internal/jobs"
	"github.com/example/speech-trainer/api-go/internal/model"
	"github.com/example/speech-trainer/api-go/internal/training"
)

// handleDownload streams the download and extraction of a catalog model.
func (s Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	m, ok := s.Catalog.Get(id)
	if !ok {
		writeErr(w, apperr.NotFound("unknown model: %s", id))
		return
	}

	h, err := s.Runner.Start(model.JobDownload, m.ID, "", func(ctx context.Context, log *joblog.Log) error {
		return s.Downloader.Run(ctx, m.URL, log)
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	streamLog(w, r, h.Log, s.StreamTimeout)
}

// handleTrain streams a training run. Problems found before dispatch are
// reported with a status code; everything after is reported in-stream.
func (s Server) handleTrain(w http.ResponseWriter, r *http.Request) {
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
	if _, ok := s.Catalog.Get(id); !ok && !s.Layout.IsDownloaded(id) {
		writeErr(w, apperr.NotFound("unknown model: %s", id))
		return
	}
	if !s.Layout.HasSentences(id, suffix) {
		writeErr(w, apperr.Validation("no sentences for %s", id))
		return
	}

	h, err := s.Runner.Start(model.JobTrain, id, suffix, s.trainWork(id, suffix))
	if err != nil {
		writeErr(w, err)
		return
	}
	streamLog(w, r, h.Log, s.StreamTimeout)
}

func (s Server) trainWork(modelID, suffix string) jobs.Work {
	return func(ctx context.Context, log *joblog.Log) error {
		_ = log.Info("Training started")
		logger := joblog.Logger(log)
		logger.Info(fmt.Sprintf("Training %s (suffix=%s)", modelID, suffix))
		start := time.Now()

		trainDir := s.Layout.ModelTrainDir(modelID, suffix)
		if err := os.MkdirAll(trainDir, 0o755); err != nil {
			return fmt.Errorf("create training dir: %w", err)
		}

		sentenceFiles := []string{s.Layout.SentencesPath(modelID, suffix)}
		if lists := s.Layout.ListsPath(modelID, suffix); fileExists(lists) {
			sentenceFiles = append(sentenceFiles, lists)
		}

		req := training.Request{
			Language:      catalog.Language(modelID),
			SentenceFiles: sentenceFiles,
			ModelDir:      s.Layout.ModelDataDir(modelID),
			TrainDir:      trainDir,
			ToolsDir:      s.ToolsDir,
			LangSuffixes:  training.LangSuffixes(s.DecodeMode),
			RescoreOrder:  s.RescoreOrder,
		}
		if err := s.Trainer.Train(ctx, req, logger); err != nil {
			return err
		}

		logger.Debug(fmt.Sprintf("Training completed in %s", time.Since(start).Round(time.Millisecond)))
		_ = log.Info("Training complete")
		return nil
	}
}

// handleHassExposed returns a YAML lists block of the entities and areas
// exposed in Home Assistant.
func (s Server) handleHassExposed(w http.ResponseWriter, r *http.Request) {
	if s.Hass == nil {
		writeText(w, http.StatusOK, "No Home Assistant token")
		return
	}
	exposed, err := s.Hass.Fetch(r.Context())
	if err != nil {
		s.logger().Error("fetch home assistant exposure", "err", err)
		writeErr(w, err)
		return
	}
	out, err := exposed.YAML()
	if err != nil {
		writeErr(w, fmt.Errorf("encode lists: %w", err))
		return
	}
	writeText(w, http.StatusOK, string(out))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
