package modelfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Layout resolves per-model paths under the training and models roots.
type Layout struct {
	TrainDir  string
	ModelsDir string
}

func (l Layout) ModelDataDir(modelID string) string {
	return filepath.Join(l.ModelsDir, modelID)
}

func (l Layout) ModelTrainDir(modelID, suffix string) string {
	dirname := "training"
	if suffix != "" {
		dirname = "training_" + suffix
	}
	return filepath.Join(l.TrainDir, modelID, dirname)
}

func (l Layout) SentencesPath(modelID, suffix string) string {
	return filepath.Join(l.TrainDir, modelID, suffixed("sentences", suffix)+".yaml")
}

func (l Layout) ListsPath(modelID, suffix string) string {
	return filepath.Join(l.TrainDir, modelID, suffixed("lists", suffix)+".yaml")
}

func (l Layout) SentencesDBPath(modelID, suffix string) string {
	return filepath.Join(l.ModelTrainDir(modelID, suffix), "sentences.db")
}

func (l Layout) LexiconPath(modelID string) string {
	return filepath.Join(l.ModelDataDir(modelID), "lexicon.db")
}

func (l Layout) G2PPath(modelID string) string {
	return filepath.Join(l.ModelDataDir(modelID), "g2p.fst")
}

// IsDownloaded reports whether the model's data directory exists.
func (l Layout) IsDownloaded(modelID string) bool {
	info, err := os.Stat(l.ModelDataDir(modelID))
	return err == nil && info.IsDir()
}

func (l Layout) HasSentences(modelID, suffix string) bool {
	info, err := os.Stat(l.SentencesPath(modelID, suffix))
	return err == nil && !info.IsDir()
}

// Suffixes lists the suffixes of sentences_<suffix>.yaml files for a model, sorted.
func (l Layout) Suffixes(modelID string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.TrainDir, modelID, "sentences*.yaml"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(m), ".yaml")
		if _, suffix, ok := strings.Cut(stem, "_"); ok && suffix != "" {
			out = append(out, suffix)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadSentences returns the stored sentences text, or "" when none exist.
func (l Layout) ReadSentences(modelID, suffix string) (string, error) {
	data, err := os.ReadFile(l.SentencesPath(modelID, suffix))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// WriteSentences replaces the sentences file via a temp file and rename.
func (l Layout) WriteSentences(modelID, suffix, text string) error {
	path := l.SentencesPath(modelID, suffix)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".sentences-*.yaml")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Delete removes the model's data directory and the given training directory.
func (l Layout) Delete(modelID, suffix string) error {
	for _, dir := range []string{l.ModelDataDir(modelID), l.ModelTrainDir(modelID, suffix)} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	return nil
}

// ValidID rejects ids that would escape the roots when joined.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && filepath.Clean(id) == id
}

func suffixed(base, suffix string) string {
	if suffix == "" {
		return base
	}
	return base + "_" + suffix
}
