package catalog

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/example/speech-trainer/api-go/internal/model"
)

type entry struct {
	id          string
	description string
	sizeBytes   uint64
}

var speechModels = []entry{
	{id: "en_US-rhasspy", description: "English (US)", sizeBytes: 92_000_000},
	{id: "de_DE-rhasspy", description: "German", sizeBytes: 88_000_000},
	{id: "fr_FR-rhasspy", description: "French", sizeBytes: 84_000_000},
	{id: "es_ES-rhasspy", description: "Spanish", sizeBytes: 71_000_000},
	{id: "it_IT-rhasspy", description: "Italian", sizeBytes: 69_000_000},
	{id: "nl_NL-rhasspy", description: "Dutch", sizeBytes: 66_000_000},
	{id: "ru_RU-rhasspy", description: "Russian", sizeBytes: 79_000_000},
}

// Catalog lists downloadable models. Archive URLs are <BaseURL>/<id>.tar.gz.
type Catalog struct {
	BaseURL string
}

func (c Catalog) Models() []model.SpeechModel {
	return lo.Map(speechModels, func(e entry, _ int) model.SpeechModel {
		return c.toModel(e)
	})
}

func (c Catalog) Get(id string) (model.SpeechModel, bool) {
	e, ok := lo.Find(speechModels, func(e entry) bool { return e.id == id })
	if !ok {
		return model.SpeechModel{}, false
	}
	return c.toModel(e), true
}

func (c Catalog) toModel(e entry) model.SpeechModel {
	return model.SpeechModel{
		ID:          e.id,
		Language:    Language(e.id),
		Description: e.description,
		URL:         strings.TrimRight(c.BaseURL, "/") + "/" + e.id + ".tar.gz",
		SizeBytes:   e.sizeBytes,
	}
}

// SizeLabel renders a model size for display, e.g. "92 MB".
func SizeLabel(m model.SpeechModel) string {
	if m.SizeBytes == 0 {
		return ""
	}
	return humanize.Bytes(m.SizeBytes)
}

// Language is the language code of a model id: "en_US-rhasspy" -> "en".
func Language(modelID string) string {
	lang, _, _ := strings.Cut(modelID, "-")
	lang, _, _ = strings.Cut(lang, "_")
	return lang
}
