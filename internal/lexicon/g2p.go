package lexicon

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/speech-trainer/api-go/internal/apperr"
)

// Guesser predicts pronunciations for words missing from the lexicon.
type Guesser interface {
	Guess(ctx context.Context, words []string, modelPath string) ([]Entry, error)
}

// Phonetisaurus runs phonetisaurus-g2pfst from ToolsDir/phonetisaurus.
type Phonetisaurus struct {
	ToolsDir string
	Timeout  time.Duration
}

func (p Phonetisaurus) Guess(ctx context.Context, words []string, modelPath string) ([]Entry, error) {
	if len(words) == 0 {
		return nil, nil
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, apperr.Lexicon("g2p model", err)
	}

	toolDir := filepath.Join(p.ToolsDir, "phonetisaurus")
	bin := filepath.Join(toolDir, "bin", "phonetisaurus-g2pfst")
	if _, err := os.Stat(bin); err != nil {
		return nil, apperr.Lexicon("g2p tool", err)
	}

	wordList, err := os.CreateTemp("", "g2p-words-*.txt")
	if err != nil {
		return nil, err
	}
	defer os.Remove(wordList.Name())
	if _, err := wordList.WriteString(strings.Join(words, "\n") + "\n"); err != nil {
		wordList.Close()
		return nil, err
	}
	if err := wordList.Close(); err != nil {
		return nil, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"--model="+modelPath,
		"--wordlist="+wordList.Name(),
		"--nbest=1",
	)
	cmd.Env = append(os.Environ(), "LD_LIBRARY_PATH="+filepath.Join(toolDir, "lib"))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, apperr.Lexicon("g2p guess", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return parseG2P(stdout.Bytes()), nil
}

// parseG2P reads "word<TAB>score<TAB>phonemes" lines. A line whose third
// column is missing or blank means the model had no guess for that word.
func parseG2P(out []byte) []Entry {
	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
		if len(fields) < 3 {
			continue
		}
		word := strings.TrimSpace(fields[0])
		phonemes := strings.Fields(fields[2])
		if word == "" || len(phonemes) == 0 {
			continue
		}
		entries = append(entries, Entry{Word: word, Phonemes: phonemes})
	}
	return entries
}
