// Package oracle implements the narrative oracle on top of an LLM provider.
package oracle

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiliankoe/doublecross/internal/ai"
	"github.com/kiliankoe/doublecross/internal/game"
	"github.com/kiliankoe/doublecross/internal/metrics"
)

//go:embed prompts
var promptFS embed.FS

var (
	judgeSystem   = mustRead("prompts/judge_system.txt")
	guesserSystem = mustRead("prompts/guesser_system.txt")
	templates     = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))
)

func mustRead(name string) string {
	b, err := promptFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// LLM asks an ai.Provider for every oracle operation and parses the JSON it
// answers with.
type LLM struct {
	provider ai.Provider
	model    string
	log      zerolog.Logger
}

func New(provider ai.Provider, model string, log zerolog.Logger) *LLM {
	return &LLM{provider: provider, model: model, log: log}
}

var _ game.Oracle = (*LLM)(nil)

func (o *LLM) Generate(ctx context.Context, req game.GenerateRequest) (game.GenerateResponse, error) {
	data := map[string]any{
		"Genre":    req.SecretGenre,
		"Keyword":  req.KeywordText,
		"Status":   req.KeywordStatus,
		"Turn":     req.Turn,
		"MaxTurns": req.MaxTurns,
		"MustUse":  req.MustUseKeyword,
		"Story":    storySoFar(req.PriorEntries),
	}
	system, err := render("writer_system.tmpl", data)
	if err != nil {
		return game.GenerateResponse{}, err
	}
	user, err := render("writer_user.tmpl", data)
	if err != nil {
		return game.GenerateResponse{}, err
	}
	raw, err := o.complete(ctx, "generate", system, user)
	if err != nil {
		return game.GenerateResponse{}, err
	}
	return ParseGenerate(raw)
}

func (o *LLM) Judge(ctx context.Context, narrative string) (game.Judgment, error) {
	user, err := render("judge_user.tmpl", map[string]any{"Story": narrative})
	if err != nil {
		return game.Judgment{}, err
	}
	raw, err := o.complete(ctx, "judge", judgeSystem, user)
	if err != nil {
		return game.Judgment{}, err
	}
	return ParseJudgment(raw)
}

func (o *LLM) Suspect(ctx context.Context, req game.SuspectRequest) (game.Suspicion, error) {
	opp := "unknown"
	if req.OpponentGenreGuess != nil {
		opp = string(*req.OpponentGenreGuess)
	}
	user, err := render("guesser_user.tmpl", map[string]any{
		"OwnGenre":         req.OwnGenre,
		"OpponentGenre":    opp,
		"GuessesRemaining": req.GuessesRemaining,
		"Turn":             req.Turn,
		"MaxTurns":         req.MaxTurns,
		"FullText":         req.FullText,
		"OpponentText":     req.OpponentOnlyText,
	})
	if err != nil {
		return game.Suspicion{}, err
	}
	raw, err := o.complete(ctx, "suspect", guesserSystem, user)
	if err != nil {
		return game.Suspicion{}, err
	}
	return ParseSuspicion(raw)
}

func (o *LLM) complete(ctx context.Context, op, system, user string) (string, error) {
	start := time.Now()
	raw, err := o.provider.CompleteWithSystem(ctx, o.model, system, user)
	metrics.ObserveOracle(op, start, err)
	if err != nil {
		o.log.Warn().Err(err).Str("operation", op).Dur("dur", time.Since(start)).Msg("oracle call failed")
		return "", fmt.Errorf("%s: %w: %v", op, game.ErrOracleUnavailable, err)
	}
	o.log.Debug().Str("operation", op).Dur("dur", time.Since(start)).Int("bytes", len(raw)).Msg("oracle call")
	return raw, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func storySoFar(entries []game.StoryEntry) string {
	if len(entries) == 0 {
		return "(the story has not started yet)"
	}
	var sb strings.Builder
	for _, e := range entries {
		who := "seed"
		if e.Author != nil {
			who = string(*e.Author)
		}
		fmt.Fprintf(&sb, "[turn %d, %s] %s\n", e.Turn, who, e.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ExtractJSON returns the JSON payload of a model reply, unwrapping a
// ```json fenced block when present.
func ExtractJSON(reply string) string {
	if i := strings.Index(reply, "```json"); i >= 0 {
		start := i + len("```json")
		if end := strings.LastIndex(reply, "```"); end > start {
			return strings.TrimSpace(reply[start:end])
		}
	}
	if i := strings.Index(reply, "```"); i >= 0 {
		start := i + 3
		if end := strings.LastIndex(reply, "```"); end > start {
			return strings.TrimSpace(reply[start:end])
		}
	}
	return strings.TrimSpace(reply)
}

func decode(reply string, v any) error {
	if err := json.Unmarshal([]byte(ExtractJSON(reply)), v); err != nil {
		return fmt.Errorf("decode reply: %w: %v", game.ErrOracleResponseInvalid, err)
	}
	return nil
}

type generateReply struct {
	Content     string  `json:"content"`
	KeywordUsed bool    `json:"keywordUsed"`
	BluffWord   *string `json:"bluffWord"`
}

func ParseGenerate(reply string) (game.GenerateResponse, error) {
	var r generateReply
	if err := decode(reply, &r); err != nil {
		return game.GenerateResponse{}, err
	}
	content := strings.TrimSpace(r.Content)
	if content == "" {
		return game.GenerateResponse{}, fmt.Errorf("empty content: %w", game.ErrOracleResponseInvalid)
	}
	bluff := r.BluffWord
	if bluff != nil && (strings.TrimSpace(*bluff) == "" || strings.EqualFold(*bluff, "null")) {
		bluff = nil
	}
	return game.GenerateResponse{Content: content, KeywordUsed: r.KeywordUsed, BluffWord: bluff}, nil
}

type judgeReply struct {
	GenreAnalysis     map[string]float64      `json:"genreAnalysis"`
	QualityFactor     float64                 `json:"qualityFactor"`
	UnnaturalElements []game.UnnaturalElement `json:"unnaturalElements"`
	PrimaryGenre      string                  `json:"primaryGenre"`
}

func ParseJudgment(reply string) (game.Judgment, error) {
	var r judgeReply
	if err := decode(reply, &r); err != nil {
		return game.Judgment{}, err
	}
	if len(r.GenreAnalysis) == 0 {
		return game.Judgment{}, fmt.Errorf("missing genreAnalysis: %w", game.ErrOracleResponseInvalid)
	}
	j := game.Judgment{
		GenreRatios:       make(map[game.Genre]int, len(r.GenreAnalysis)),
		QualityFactor:     r.QualityFactor,
		UnnaturalElements: r.UnnaturalElements,
		PrimaryGenre:      game.Genre(strings.ToUpper(strings.TrimSpace(r.PrimaryGenre))),
	}
	if j.UnnaturalElements == nil {
		j.UnnaturalElements = []game.UnnaturalElement{}
	}
	for name, ratio := range r.GenreAnalysis {
		j.GenreRatios[game.Genre(strings.ToUpper(strings.TrimSpace(name)))] = int(math.Round(ratio))
	}
	if j.PrimaryGenre != "" && !j.PrimaryGenre.Valid() {
		j.PrimaryGenre = ""
	}
	if err := game.ValidateJudgment(j); err != nil {
		return game.Judgment{}, err
	}
	return j, nil
}

type suspectReply struct {
	Decision        string                `json:"decision"`
	GuessWord       *string               `json:"guessWord"`
	Confidence      float64               `json:"confidence"`
	SuspiciousWords []game.SuspiciousWord `json:"suspiciousWords"`
}

func ParseSuspicion(reply string) (game.Suspicion, error) {
	var r suspectReply
	if err := decode(reply, &r); err != nil {
		return game.Suspicion{}, err
	}
	s := game.Suspicion{
		Decision:        game.Decision(strings.ToUpper(strings.TrimSpace(r.Decision))),
		Confidence:      int(math.Round(math.Max(0, math.Min(100, r.Confidence)))),
		SuspiciousWords: r.SuspiciousWords,
	}
	switch s.Decision {
	case game.DecisionGuess, game.DecisionPass:
	default:
		return game.Suspicion{}, fmt.Errorf("decision %q: %w", r.Decision, game.ErrOracleResponseInvalid)
	}
	if r.GuessWord != nil {
		if w := strings.TrimSpace(*r.GuessWord); w != "" && !strings.EqualFold(w, "null") {
			s.GuessWord = &w
		}
	}
	// a guess without a word cannot be played
	if s.Decision == game.DecisionGuess && s.GuessWord == nil {
		s.Decision = game.DecisionPass
	}
	return s, nil
}
