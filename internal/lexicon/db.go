package lexicon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/example/speech-trainer/api-go/internal/apperr"
)

// ErrNotWildcard is returned by WildcardQuery for patterns without '*'.
var ErrNotWildcard = errors.New("pattern has no wildcard")

// Entry is one stored pronunciation.
type Entry struct {
	Word     string
	Phonemes []string
}

// Line renders an entry as `word: "/p1 p2/"`.
func (e Entry) Line() string {
	return fmt.Sprintf(`%s: "/%s/"`, e.Word, strings.Join(e.Phonemes, " "))
}

// DB is a read handle on a lexicon.db (table word_phonemes(word, phonemes)).
// Rows keep insertion order, which is the order pronunciations are returned in.
type DB struct {
	db *sql.DB
}

// Open opens an existing lexicon read-only.
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperr.Lexicon("open lexicon "+path, err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=query_only(1)")
	if err != nil {
		return nil, apperr.Lexicon("open lexicon "+path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, apperr.Lexicon("open lexicon "+path, err)
	}
	return &DB{db: db}, nil
}

// Create makes a new writable lexicon at path, used to seed fixtures and imports.
func Create(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS word_phonemes (
  word TEXT NOT NULL,
  phonemes TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS word_phonemes_word ON word_phonemes (word);
`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Add stores one pronunciation. Duplicate (word, phonemes) pairs are ignored.
func (d *DB) Add(ctx context.Context, word string, phonemes []string) error {
	joined := strings.Join(phonemes, " ")
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO word_phonemes (word, phonemes)
         SELECT ?, ? WHERE NOT EXISTS (
           SELECT 1 FROM word_phonemes WHERE word = ? AND phonemes = ?
         )`,
		word, joined, word, joined,
	)
	return err
}

// Lookup returns every pronunciation of word in storage order.
func (d *DB) Lookup(ctx context.Context, word string) ([][]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT phonemes FROM word_phonemes WHERE word = ? ORDER BY rowid`, word)
	if err != nil {
		return nil, apperr.Lexicon("lookup "+word, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var phonemes string
		if err := rows.Scan(&phonemes); err != nil {
			return nil, apperr.Lexicon("lookup "+word, err)
		}
		out = append(out, strings.Fields(phonemes))
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Lexicon("lookup "+word, err)
	}
	return out, nil
}

// WildcardQuery returns every entry whose word matches pattern, where '*'
// matches any run of characters. Other characters match literally.
func (d *DB) WildcardQuery(ctx context.Context, pattern string) ([]Entry, error) {
	if !strings.Contains(pattern, "*") {
		return nil, ErrNotWildcard
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT word, phonemes FROM word_phonemes WHERE word LIKE ? ESCAPE '\' ORDER BY rowid`,
		likePattern(pattern),
	)
	if err != nil {
		return nil, apperr.Lexicon("query "+pattern, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var word, phonemes string
		if err := rows.Scan(&word, &phonemes); err != nil {
			return nil, apperr.Lexicon("query "+pattern, err)
		}
		out = append(out, Entry{Word: word, Phonemes: strings.Fields(phonemes)})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Lexicon("query "+pattern, err)
	}
	return out, nil
}

func likePattern(pattern string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `%`)
	return r.Replace(pattern)
}
