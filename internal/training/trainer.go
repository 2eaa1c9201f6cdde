package training

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/example/speech-trainer/api-go/internal/config"
)

// LangSuffix names a language model variant produced by training.
type LangSuffix string

const (
	LangGrammar     LangSuffix = "grammar"
	LangArpa        LangSuffix = "arpa"
	LangArpaRescore LangSuffix = "arpa_rescore"
)

// LangSuffixes returns the variants to build for a decode mode.
func LangSuffixes(decodeMode string) []LangSuffix {
	switch decodeMode {
	case config.DecodeGrammar:
		return []LangSuffix{LangGrammar}
	case config.DecodeArpaRescore:
		return []LangSuffix{LangArpa, LangArpaRescore}
	default:
		return []LangSuffix{LangArpa}
	}
}

type Request struct {
	Language      string
	SentenceFiles []string
	ModelDir      string
	TrainDir      string
	ToolsDir      string
	LangSuffixes  []LangSuffix
	RescoreOrder  int // 0 leaves the trainer default
}

// Trainer builds a speech model. Progress goes to logger.
type Trainer interface {
	Train(ctx context.Context, req Request, logger *slog.Logger) error
}

// CommandTrainer runs an external training program. Every stdout and stderr
// line is logged at INFO as it arrives.
type CommandTrainer struct {
	Command []string
}

const stderrTailLines = 20

func (t CommandTrainer) Train(ctx context.Context, req Request, logger *slog.Logger) error {
	if len(t.Command) == 0 {
		return errors.New("no training command configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	args := append(append([]string(nil), t.Command[1:]...), req.Args()...)
	cmd := exec.CommandContext(ctx, t.Command[0], args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.Command[0], err)
	}

	var (
		mu   sync.Mutex
		tail []string
		wg   sync.WaitGroup
	)
	read := func(r io.Reader, keep bool) {
		defer wg.Done()
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if line == "" {
				continue
			}
			mu.Lock()
			logger.Info(line)
			if keep {
				tail = append(tail, line)
				if len(tail) > stderrTailLines {
					tail = tail[1:]
				}
			}
			mu.Unlock()
		}
	}
	wg.Add(2)
	go read(stdout, false)
	go read(stderr, true)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("training interrupted: %w", ctxErr)
		}
		if len(tail) == 0 {
			return fmt.Errorf("training failed: %w", err)
		}
		return fmt.Errorf("training failed: %w: %s", err, strings.Join(tail, " | "))
	}
	return nil
}

// Args renders the request as command-line flags.
func (r Request) Args() []string {
	args := []string{
		"--language", r.Language,
		"--model-dir", r.ModelDir,
		"--train-dir", r.TrainDir,
		"--tools-dir", r.ToolsDir,
	}
	for _, f := range r.SentenceFiles {
		args = append(args, "--sentences", f)
	}
	for _, s := range r.LangSuffixes {
		args = append(args, "--lang-suffix", string(s))
	}
	if r.RescoreOrder > 0 {
		args = append(args, "--rescore-order", strconv.Itoa(r.RescoreOrder))
	}
	return args
}
