package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Excerpt is one item of assembled context. Kind is "turn" for verbatim
// recent history and "record" for summarized older content.
type Excerpt struct {
	Kind      string
	Content   string
	CreatedAt time.Time
}

// Retrieve assembles a budgeted context for a session: raw turns verbatim
// plus older content in summarized record form, ordered oldest-to-newest.
// skipNewestTurns excludes that many of the newest raw turns; callers that
// already hold recent turns verbatim pass the covered count so nothing
// appears twice. The character budget is never exceeded; when over, the
// oldest records drop first, then the oldest raw turns.
func (s *Store) Retrieve(ctx context.Context, sessionKey string, budgetChars, skipNewestTurns int) ([]Excerpt, error) {
	records, err := s.ActiveRecords(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	turns, err := s.ActiveTurns(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if skipNewestTurns > 0 {
		if skipNewestTurns >= len(turns) {
			turns = nil
		} else {
			turns = turns[:len(turns)-skipNewestTurns]
		}
	}

	var excerpts []Excerpt
	for _, rec := range records {
		excerpts = append(excerpts, Excerpt{
			Kind:      "record",
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		})
	}
	for _, turn := range turns {
		excerpts = append(excerpts, Excerpt{
			Kind:      "turn",
			Content:   renderTurn(turn),
			CreatedAt: turn.CreatedAt,
		})
	}

	if budgetChars <= 0 {
		return excerpts, nil
	}

	total := 0
	for _, e := range excerpts {
		total += len(e.Content)
	}
	// Drop oldest records first; excerpts lead with all records, so the
	// first droppable index is always the oldest surviving record.
	for total > budgetChars && len(excerpts) > 0 {
		total -= len(excerpts[0].Content)
		excerpts = excerpts[1:]
	}
	return excerpts, nil
}

func renderTurn(turn TurnRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User: %s\n", turn.UserInput)
	if turn.FinalOutput != "" {
		fmt.Fprintf(&b, "Assistant: %s", turn.FinalOutput)
	}
	if len(turn.ToolsUsed) > 0 {
		fmt.Fprintf(&b, "\n[tools: %s]", strings.Join(turn.ToolsUsed, ", "))
	}
	return b.String()
}
