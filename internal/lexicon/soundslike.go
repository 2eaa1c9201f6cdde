package lexicon

import (
	"context"
	"strings"
)

// Lookuper is the exact-lookup half of a lexicon.
type Lookuper interface {
	Lookup(ctx context.Context, word string) ([][]string, error)
}

// SoundsLike builds a pronunciation for a token such as "beyonce[bee_yon_say]".
// The bracket holds parts separated by '_' or whitespace. A part is either a
// lexicon word, contributing its first pronunciation, or literal phonemes
// between slashes separated by '.' or whitespace ("/b.i/").
// It returns nil when the token is malformed or any part is unknown.
func SoundsLike(ctx context.Context, token string, lex Lookuper) ([][]string, error) {
	open := strings.Index(token, "[")
	end := strings.LastIndex(token, "]")
	if open < 0 || end < open {
		return nil, nil
	}

	parts := strings.FieldsFunc(token[open+1:end], func(r rune) bool {
		return r == '_' || r == ' ' || r == '\t'
	})
	if len(parts) == 0 {
		return nil, nil
	}

	var phonemes []string
	for _, part := range parts {
		if len(part) >= 2 && strings.HasPrefix(part, "/") && strings.HasSuffix(part, "/") {
			literal := strings.FieldsFunc(part[1:len(part)-1], func(r rune) bool {
				return r == '.' || r == ' ' || r == '\t'
			})
			if len(literal) == 0 {
				return nil, nil
			}
			phonemes = append(phonemes, literal...)
			continue
		}

		prons, err := lex.Lookup(ctx, part)
		if err != nil {
			return nil, err
		}
		if len(prons) == 0 {
			return nil, nil
		}
		phonemes = append(phonemes, prons[0]...)
	}
	return [][]string{phonemes}, nil
}
