package modelfs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/example/speech-trainer/api-go/internal/apperr"
)

func newLayout(t *testing.T) Layout {
	t.Helper()
	root := t.TempDir()
	return Layout{TrainDir: filepath.Join(root, "train"), ModelsDir: filepath.Join(root, "models")}
}

func TestPaths(t *testing.T) {
	l := Layout{TrainDir: "/t", ModelsDir: "/m"}
	cases := map[string]string{
		l.ModelTrainDir("en", ""):       "/t/en/training",
		l.ModelTrainDir("en", "office"): "/t/en/training_office",
		l.SentencesPath("en", ""):       "/t/en/sentences.yaml",
		l.SentencesPath("en", "office"): "/t/en/sentences_office.yaml",
		l.ListsPath("en", "office"):     "/t/en/lists_office.yaml",
		l.SentencesDBPath("en", ""):     "/t/en/training/sentences.db",
		l.LexiconPath("en"):             "/m/en/lexicon.db",
		l.G2PPath("en"):                 "/m/en/g2p.fst",
	}
	for got, want := range cases {
		if filepath.ToSlash(got) != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	}
}

func TestWriteReadSentencesAndSuffixes(t *testing.T) {
	l := newLayout(t)

	text, err := l.ReadSentences("en", "")
	if err != nil || text != "" {
		t.Fatalf("read missing = %q, %v", text, err)
	}
	if l.HasSentences("en", "") {
		t.Fatal("expected no sentences yet")
	}

	for _, suffix := range []string{"", "office", "kitchen"} {
		if err := l.WriteSentences("en", suffix, "sentences:\n  - hello "+suffix+"\n"); err != nil {
			t.Fatalf("write %q: %v", suffix, err)
		}
	}
	text, err = l.ReadSentences("en", "office")
	if err != nil || text != "sentences:\n  - hello office\n" {
		t.Fatalf("read = %q, %v", text, err)
	}

	// Stray directory matching the glob is ignored.
	if err := os.MkdirAll(filepath.Join(l.TrainDir, "en", "sentences_dir.yaml"), 0o755); err != nil {
		t.Fatal(err)
	}
	suffixes, err := l.Suffixes("en")
	if err != nil {
		t.Fatalf("suffixes: %v", err)
	}
	if want := []string{"kitchen", "office"}; !reflect.DeepEqual(suffixes, want) {
		t.Fatalf("suffixes = %v, want %v", suffixes, want)
	}

	leftovers, _ := filepath.Glob(filepath.Join(l.TrainDir, "en", ".sentences-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestDelete(t *testing.T) {
	l := newLayout(t)
	if err := os.MkdirAll(l.ModelDataDir("en"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(l.ModelTrainDir("en", "x"), 0o755); err != nil {
		t.Fatal(err)
	}
	if !l.IsDownloaded("en") {
		t.Fatal("expected downloaded")
	}
	if err := l.Delete("en", "x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if l.IsDownloaded("en") {
		t.Fatal("model dir still present")
	}
	if _, err := os.Stat(l.ModelTrainDir("en", "x")); !os.IsNotExist(err) {
		t.Fatalf("train dir still present: %v", err)
	}
	// Deleting again is fine.
	if err := l.Delete("en", "x"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestValidID(t *testing.T) {
	for _, id := range []string{"en_US-rhasspy", "de_DE-rhasspy"} {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false", id)
		}
	}
	for _, id := range []string{"", ".", "..", "../etc", "a/b", `a\b`} {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true", id)
		}
	}
}

func TestValidateSentences(t *testing.T) {
	ok := "language: en\nsentences:\n  - turn on the light\n"
	if err := ValidateSentences(ok); err != nil {
		t.Fatalf("valid sentences rejected: %v", err)
	}

	cases := map[string]string{
		"lists: {}\n":     "validation: Missing sentences block",
		"sentences: []\n": "validation: No sentences",
		"sentences:\n":    "validation: No sentences",
		"":                "validation: Missing sentences block",
	}
	for text, want := range cases {
		err := ValidateSentences(text)
		if err == nil {
			t.Errorf("ValidateSentences(%q) = nil", text)
			continue
		}
		if got := apperr.Text(err); got != want {
			t.Errorf("ValidateSentences(%q) = %q, want %q", text, got, want)
		}
	}

	if err := ValidateSentences("sentences: [unclosed"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("malformed YAML kind = %v", apperr.KindOf(err))
	}
}
