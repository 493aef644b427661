package game

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultCatalog []byte

// Rand is the subset of *rand.Rand the engine draws from.
type Rand interface {
	Intn(n int) int
}

// KeywordBank is a read-only catalog of keywords.
type KeywordBank struct {
	keywords []Keyword
}

type catalogFile struct {
	Keywords []Keyword `yaml:"keywords"`
}

// NewKeywordBank builds a bank from an explicit keyword list.
func NewKeywordBank(keywords []Keyword) *KeywordBank {
	return &KeywordBank{keywords: append([]Keyword(nil), keywords...)}
}

// ParseKeywordBank reads a YAML catalog with a top-level "keywords" list.
func ParseKeywordBank(data []byte) (*KeywordBank, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keyword catalog: %w", err)
	}
	for i, k := range f.Keywords {
		if k.Word == "" {
			return nil, fmt.Errorf("keyword catalog entry %d: empty word", i)
		}
		if !k.TargetGenre.Valid() {
			return nil, fmt.Errorf("keyword catalog entry %q: unknown genre %q", k.Word, k.TargetGenre)
		}
		if !k.Difficulty.Valid() {
			return nil, fmt.Errorf("keyword catalog entry %q: unknown difficulty %q", k.Word, k.Difficulty)
		}
	}
	return NewKeywordBank(f.Keywords), nil
}

// DefaultKeywordBank returns the embedded catalog.
func DefaultKeywordBank() *KeywordBank {
	b, err := ParseKeywordBank(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return b
}

// Len reports how many keywords the bank holds.
func (b *KeywordBank) Len() int { return len(b.keywords) }

// Draw picks a random keyword foreign to target at the given difficulty. If
// none exists at that difficulty the filter relaxes to the genre alone.
func (b *KeywordBank) Draw(r Rand, target Genre, difficulty Difficulty) (Keyword, error) {
	var exact, relaxed []Keyword
	for _, k := range b.keywords {
		if k.TargetGenre != target {
			continue
		}
		relaxed = append(relaxed, k)
		if k.Difficulty == difficulty {
			exact = append(exact, k)
		}
	}
	pool := exact
	if len(pool) == 0 {
		pool = relaxed
	}
	if len(pool) == 0 {
		return Keyword{}, fmt.Errorf("genre %s: %w", target, ErrNoKeywordAvailable)
	}
	return pool[r.Intn(len(pool))], nil
}
