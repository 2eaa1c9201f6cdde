package lexicon

import (
	"context"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/example/speech-trainer/api-go/internal/apperr"
)

// Store is the lexicon storage used by a Resolver.
type Store interface {
	Lookuper
	WildcardQuery(ctx context.Context, pattern string) ([]Entry, error)
}

// Resolver answers a pronunciation query against one lexicon.
type Resolver struct {
	Lexicon  Store
	Guesser  Guesser // optional; without it missing words stay in Result.Missing
	G2PModel string
}

// Result keeps dictionary hits and statistical guesses apart.
type Result struct {
	Wildcard bool
	Found    []Entry
	Guessed  []Entry
	Missing  []string // sorted, unique; words neither looked up nor guessed
}

func (r Result) FoundText() string   { return render(r.Found) }
func (r Result) GuessedText() string { return render(r.Guessed) }

func render(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	return strings.Join(lo.Map(entries, func(e Entry, _ int) string { return e.Line() }), "\n") + "\n"
}

// Resolve looks up input. Input containing '*' is a single wildcard pattern;
// otherwise each whitespace-separated word is resolved in order and the
// unresolved ones are guessed in one batch.
func (r Resolver) Resolve(ctx context.Context, input string) (Result, error) {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "*") {
		entries, err := r.Lexicon.WildcardQuery(ctx, input)
		if err != nil {
			return Result{}, err
		}
		return Result{Wildcard: true, Found: entries}, nil
	}

	var (
		res     Result
		missing []string
	)
	for _, word := range strings.Fields(input) {
		var (
			prons [][]string
			err   error
		)
		if strings.Contains(word, "[") {
			prons, err = SoundsLike(ctx, word, r.Lexicon)
		} else {
			prons, err = r.Lexicon.Lookup(ctx, word)
		}
		if err != nil {
			return Result{}, err
		}
		if len(prons) == 0 {
			missing = append(missing, word)
			continue
		}
		for _, p := range prons {
			res.Found = append(res.Found, Entry{Word: word, Phonemes: p})
		}
	}

	missing = lo.Uniq(missing)
	slices.Sort(missing)
	res.Missing = missing
	if len(missing) == 0 || r.Guesser == nil {
		return res, nil
	}

	guessed, err := r.Guesser.Guess(ctx, missing, r.G2PModel)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Lexicon("guess pronunciations", err)
		}
		return Result{}, err
	}
	res.Guessed = guessed
	res.Missing = unguessed(missing, guessed)
	return res, nil
}

// unguessed returns the words in missing that have no entry in guessed,
// or nil when every word got a guess.
func unguessed(missing []string, guessed []Entry) []string {
	got := lo.SliceToMap(guessed, func(e Entry) (string, bool) { return e.Word, true })
	rest := lo.Filter(missing, func(w string, _ int) bool { return !got[w] })
	if len(rest) == 0 {
		return nil
	}
	return rest
}
