package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/tideclaw/tideclaw/internal/provider"
)

const consolidationPrompt = `You compress conversation history into durable memory.
Summarize the conversation below. Preserve named facts, decisions, dates,
file paths, and open commitments exactly. Respond with JSON only:
{"summary": "<2-4 sentence summary>", "facts": ["<standalone fact>", ...]}

Conversation:
%s`

// Consolidator summarizes unconsolidated history into memory records
// once it grows past a threshold.
type Consolidator struct {
	store     *Store
	provider  provider.LLMProvider
	model     string
	threshold int
	logger    *slog.Logger
}

// NewConsolidator creates a consolidator. threshold is the number of
// unconsolidated turns that triggers a pass.
func NewConsolidator(store *Store, prov provider.LLMProvider, model string, threshold int, logger *slog.Logger) *Consolidator {
	if threshold <= 0 {
		threshold = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{
		store:     store,
		provider:  prov,
		model:     model,
		threshold: threshold,
		logger:    logger,
	}
}

// Consolidate summarizes the oldest unconsolidated span of a session,
// keeping the most recent half raw. Below the threshold it is a no-op,
// which also makes back-to-back runs idempotent: the cursor advance from
// the first pass leaves the second with nothing above threshold.
func (c *Consolidator) Consolidate(ctx context.Context, sessionKey string) error {
	turns, err := c.store.UnconsolidatedTurns(ctx, sessionKey)
	if err != nil {
		return err
	}
	if len(turns) < c.threshold {
		return nil
	}

	// Keep the newest half raw; summarize the older half.
	keep := len(turns) / 2
	span := turns[:len(turns)-keep]
	first, last := span[0].ID, span[len(span)-1].ID

	summary, facts, err := c.summarize(ctx, span)
	if err != nil {
		return fmt.Errorf("consolidate %s: %w", sessionKey, err)
	}

	if summary != "" {
		if _, err := c.store.InsertRecord(ctx, Record{
			SessionKey:  sessionKey,
			Content:     summary,
			SourceStart: first,
			SourceEnd:   last,
			Tags:        "summary",
		}); err != nil {
			return err
		}
	}
	for _, fact := range facts {
		if fact == "" {
			continue
		}
		if _, err := c.store.InsertRecord(ctx, Record{
			SessionKey:  sessionKey,
			Content:     fact,
			SourceStart: first,
			SourceEnd:   last,
			Tags:        "fact",
		}); err != nil {
			return err
		}
	}

	if err := c.store.ArchiveTurns(ctx, sessionKey, first, last); err != nil {
		return err
	}
	if err := c.store.SetCursor(ctx, sessionKey, last); err != nil {
		return err
	}
	c.logger.Info("memory consolidated",
		"session", sessionKey, "turns", len(span), "facts", len(facts))
	return nil
}

func (c *Consolidator) summarize(ctx context.Context, span []TurnRecord) (string, []string, error) {
	var history strings.Builder
	for _, turn := range span {
		history.WriteString(renderTurn(turn))
		history.WriteString("\n---\n")
	}

	resp, err := c.provider.Chat(ctx, &provider.ChatRequest{
		Model: c.model,
		Messages: []provider.Message{
			{Role: "user", Content: fmt.Sprintf(consolidationPrompt, history.String())},
		},
	})
	if err != nil {
		return "", nil, err
	}
	return parseConsolidation(resp.Content)
}

// parseConsolidation decodes the model's JSON, repairing malformed output
// before giving up.
func parseConsolidation(raw string) (string, []string, error) {
	var parsed struct {
		Summary string   `json:"summary"`
		Facts   []string `json:"facts"`
	}
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(trimmed)
		if repairErr != nil {
			return "", nil, fmt.Errorf("parse consolidation output: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return "", nil, fmt.Errorf("parse repaired consolidation output: %w", err)
		}
	}
	return parsed.Summary, parsed.Facts, nil
}
