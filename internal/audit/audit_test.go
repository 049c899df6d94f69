package audit

import (
	"context"
	"testing"
	"time"

	"github.com/hiv-care-hub/platform/internal/shared/events"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// memoryRepository chains entries in memory, mirroring what the stream
// repository does against the event store
type memoryRepository struct {
	entries  []Entry
	lastHash string
	sequence int64
}

func (m *memoryRepository) Initialize(_ context.Context) error { return nil }

func (m *memoryRepository) Append(_ context.Context, entry *Entry) error {
	entry.Sequence = m.sequence + 1
	entry.PrevHash = m.lastHash
	if entry.ID.IsZero() {
		entry.ID = types.NewID()
	}
	if err := entry.ComputeHash(); err != nil {
		return err
	}
	m.entries = append(m.entries, *entry)
	m.lastHash = entry.Hash
	m.sequence = entry.Sequence
	return nil
}

func (m *memoryRepository) List(_ context.Context, limit int) ([]Entry, error) {
	if limit > len(m.entries) {
		limit = len(m.entries)
	}
	return m.entries[len(m.entries)-limit:], nil
}

func (m *memoryRepository) BySession(_ context.Context, sessionID types.ID, _ int) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryRepository) Verify(_ context.Context, _ int) (*VerifyResult, error) {
	return VerifyChain(m.entries)
}

func appendEntries(t *testing.T, repo *memoryRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := repo.Append(context.Background(), &Entry{
			Timestamp: time.Now(),
			ActorID:   types.ID("doctor-1"),
			ActorKind: "clinical",
			Action:    "prescription.step_changed",
			SessionID: types.ID("session-1"),
			Details:   map[string]any{"index": i},
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func TestChainLinksEntries(t *testing.T) {
	repo := &memoryRepository{}
	appendEntries(t, repo, 3)

	if repo.entries[0].PrevHash != "" {
		t.Error("first entry must have an empty previous hash")
	}
	for i := 1; i < len(repo.entries); i++ {
		if repo.entries[i].PrevHash != repo.entries[i-1].Hash {
			t.Errorf("entry %d not linked to its predecessor", i)
		}
	}

	result, err := repo.Verify(context.Background(), 0)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.Checked != 3 {
		t.Errorf("expected a valid chain of 3, got %+v", result)
	}
}

func TestTamperingBreaksTheChain(t *testing.T) {
	repo := &memoryRepository{}
	appendEntries(t, repo, 3)

	repo.entries[1].Action = "prescription.validation_overridden"

	result, err := repo.Verify(context.Background(), 0)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Error("modified entry must invalidate the chain")
	}
	if result.BrokenAt == nil || *result.BrokenAt != 2 {
		t.Errorf("expected break at sequence 2, got %+v", result.BrokenAt)
	}
}

func TestHashSurvivesJSONRoundTrip(t *testing.T) {
	entry := &Entry{
		Timestamp: time.Now(),
		ActorID:   types.ID("doctor-1"),
		ActorKind: "clinical",
		Action:    "prescription.started",
		SessionID: types.ID("session-1"),
		Details:   map[string]any{"b": 2, "a": 1, "nested": map[string]any{"z": true, "y": false}},
	}
	if err := entry.ComputeHash(); err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}

	ok, err := entry.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("entry must verify against its own hash")
	}
}

func TestSubscriberRecordsSessionEvents(t *testing.T) {
	repo := &memoryRepository{}
	sub := NewSubscriber(repo, nil)

	event := events.NewEvent("prescription.protocol_selected", "prescription-service", map[string]any{
		"session_id": "session-42",
		"type":       "protocol_selected",
	}).WithActor(types.ID("doctor-1"), "clinical")

	if err := sub.handleEvent(context.Background(), event); err != nil {
		t.Fatalf("handleEvent failed: %v", err)
	}

	entries, _ := repo.BySession(context.Background(), types.ID("session-42"), 0)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Action != "prescription.protocol_selected" {
		t.Errorf("action = %s", entries[0].Action)
	}
	if entries[0].ActorID != "doctor-1" || entries[0].ActorKind != "clinical" {
		t.Errorf("actor not carried: %+v", entries[0])
	}
}
