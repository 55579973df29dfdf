package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tideclaw/tideclaw/internal/provider"
)

type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", p.calls)
	}
	resp := &provider.ChatResponse{Content: p.responses[p.calls]}
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func appendTurns(t *testing.T, store *Store, session string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.AppendTurn(context.Background(), TurnRecord{
			SessionKey:  session,
			UserInput:   fmt.Sprintf("question %d", i),
			FinalOutput: fmt.Sprintf("answer %d", i),
		})
		if err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}
}

func TestAppendAndActiveTurns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, err := store.AppendTurn(ctx, TurnRecord{
		SessionKey:  "cli:a",
		UserInput:   "hello",
		FinalOutput: "hi",
		ToolsUsed:   []string{"read_file"},
	})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if id == 0 {
		t.Error("expected nonzero turn id")
	}

	turns, err := store.ActiveTurns(ctx, "cli:a")
	if err != nil {
		t.Fatalf("ActiveTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].UserInput != "hello" {
		t.Fatalf("turns = %+v", turns)
	}
	if len(turns[0].ToolsUsed) != 1 || turns[0].ToolsUsed[0] != "read_file" {
		t.Errorf("ToolsUsed = %v", turns[0].ToolsUsed)
	}
}

func TestConsolidateBelowThresholdNoOp(t *testing.T) {
	store := testStore(t)
	prov := &scriptedProvider{}
	c := NewConsolidator(store, prov, "m", 10, quietLogger())

	appendTurns(t, store, "cli:a", 3)
	if err := c.Consolidate(context.Background(), "cli:a"); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if prov.calls != 0 {
		t.Error("provider called below threshold")
	}
	records, _ := store.ActiveRecords(context.Background(), "cli:a")
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}

func TestConsolidateArchivesAndIsIdempotent(t *testing.T) {
	store := testStore(t)
	prov := &scriptedProvider{responses: []string{
		`{"summary": "Talked about project setup.", "facts": ["Repo lives in ~/work", "Deploys on Fridays"]}`,
	}}
	c := NewConsolidator(store, prov, "m", 10, quietLogger())
	ctx := context.Background()

	appendTurns(t, store, "cli:a", 10)
	if err := c.Consolidate(ctx, "cli:a"); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	records, err := store.ActiveRecords(ctx, "cli:a")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want summary + 2 facts", len(records))
	}

	// The newest half stays raw.
	turns, _ := store.ActiveTurns(ctx, "cli:a")
	if len(turns) != 5 {
		t.Errorf("raw turns after consolidation = %d, want 5", len(turns))
	}

	// Idempotency: no new turns since the last pass, so nothing happens.
	if err := c.Consolidate(ctx, "cli:a"); err != nil {
		t.Fatalf("second Consolidate: %v", err)
	}
	records, _ = store.ActiveRecords(ctx, "cli:a")
	if len(records) != 3 {
		t.Errorf("records after second pass = %d, want 3", len(records))
	}
	if prov.calls != 1 {
		t.Errorf("provider calls = %d, want 1", prov.calls)
	}
}

func TestConsolidateRepairsMalformedJSON(t *testing.T) {
	store := testStore(t)
	prov := &scriptedProvider{responses: []string{
		`{'summary': 'Single quotes everywhere.', 'facts': ['Still parses',]}`,
	}}
	c := NewConsolidator(store, prov, "m", 4, quietLogger())
	ctx := context.Background()

	appendTurns(t, store, "cli:a", 4)
	if err := c.Consolidate(ctx, "cli:a"); err != nil {
		t.Fatalf("Consolidate with malformed JSON: %v", err)
	}
	records, _ := store.ActiveRecords(ctx, "cli:a")
	if len(records) != 2 {
		t.Errorf("records = %d, want summary + 1 fact", len(records))
	}
}

func TestRetrieveOrderingAndBudget(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.InsertRecord(ctx, Record{
			SessionKey: "cli:a",
			Content:    fmt.Sprintf("record %d padded out to some length", i),
			Tags:       "summary",
		}); err != nil {
			t.Fatal(err)
		}
	}
	appendTurns(t, store, "cli:a", 2)

	all, err := store.Retrieve(ctx, "cli:a", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("unbudgeted excerpts = %d, want 5", len(all))
	}
	if all[0].Kind != "record" || all[len(all)-1].Kind != "turn" {
		t.Errorf("ordering wrong: first=%s last=%s", all[0].Kind, all[len(all)-1].Kind)
	}

	// Tight budget: oldest records drop first, raw turns survive.
	turnChars := 0
	for _, e := range all[3:] {
		turnChars += len(e.Content)
	}
	budgeted, err := store.Retrieve(ctx, "cli:a", turnChars+len(all[2].Content), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(budgeted) != 3 {
		t.Fatalf("budgeted excerpts = %d, want 3", len(budgeted))
	}
	if budgeted[0].Kind != "record" || budgeted[0].Content != all[2].Content {
		t.Errorf("wrong survivor: %+v", budgeted[0])
	}
	if budgeted[1].Kind != "turn" || budgeted[2].Kind != "turn" {
		t.Error("raw turns must survive budget truncation before records")
	}
}

func TestRetrieveSkipsNewestTurns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	appendTurns(t, store, "cli:a", 4)

	got, err := store.Retrieve(ctx, "cli:a", 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("excerpts = %d, want 1 after skipping 3 newest", len(got))
	}
	if !strings.Contains(got[0].Content, "question 0") {
		t.Errorf("survivor must be the oldest turn, got %q", got[0].Content)
	}

	// Skipping everything leaves only records (none here).
	got, err = store.Retrieve(ctx, "cli:a", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("excerpts = %d, want 0 when all turns are covered", len(got))
	}
}

func TestArchiveRecordExcludedFromRetrieve(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, err := store.InsertRecord(ctx, Record{SessionKey: "cli:a", Content: "old summary"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.ArchiveRecord(ctx, id); err != nil {
		t.Fatal(err)
	}
	records, _ := store.ActiveRecords(ctx, "cli:a")
	if len(records) != 0 {
		t.Errorf("archived record still active: %+v", records)
	}
}
