package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// auditStream is the single append-only stream carrying the whole trail
const auditStream = "carehub-audit"

// Repository stores and reads the audit trail
type Repository interface {
	// Initialize loads the chain head (last hash, sequence)
	Initialize(ctx context.Context) error
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	BySession(ctx context.Context, sessionID types.ID, limit int) ([]Entry, error)
	Verify(ctx context.Context, limit int) (*VerifyResult, error)
}

// EsdbRepository keeps the trail in a KurrentDB stream. The event store's
// append-only storage matches the trail's no-rewrite requirement; the hash
// chain additionally catches tampering below the API.
type EsdbRepository struct {
	client *esdb.Client

	mu       sync.Mutex
	lastHash string
	sequence int64
}

var _ Repository = (*EsdbRepository)(nil)

// NewEsdbRepository creates an audit repository on the given client
func NewEsdbRepository(client *esdb.Client) *EsdbRepository {
	return &EsdbRepository{client: client}
}

// Initialize reads the newest entry to pick up the chain head
func (r *EsdbRepository) Initialize(ctx context.Context) error {
	stream, err := r.client.ReadStream(ctx, auditStream, esdb.ReadStreamOptions{
		From:      esdb.End{},
		Direction: esdb.Backwards,
	}, 1)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			// empty trail, chain starts fresh
			return nil
		}
		return fmt.Errorf("failed to read audit stream: %w", err)
	}
	defer stream.Close()

	resolved, err := stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			return nil
		}
		return fmt.Errorf("failed to read audit head: %w", err)
	}

	var last Entry
	if err := json.Unmarshal(resolved.Event.Data, &last); err != nil {
		return fmt.Errorf("failed to decode audit head: %w", err)
	}

	r.mu.Lock()
	r.lastHash = last.Hash
	r.sequence = last.Sequence
	r.mu.Unlock()
	return nil
}

// Append chains and stores a new entry
func (r *EsdbRepository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Sequence = r.sequence + 1
	entry.PrevHash = r.lastHash
	if entry.ID.IsZero() {
		entry.ID = types.NewID()
	}
	if err := entry.ComputeHash(); err != nil {
		return fmt.Errorf("failed to hash audit entry: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	_, err = r.client.AppendToStream(ctx, auditStream, esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdb.EventData{
		EventType:   "audit.entry",
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     uuid.New(),
	})
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	r.lastHash = entry.Hash
	r.sequence = entry.Sequence
	return nil
}

// List returns the newest entries, newest first
func (r *EsdbRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.read(ctx, esdb.End{}, esdb.Backwards, limit, nil)
}

// BySession returns entries for one session, oldest first
func (r *EsdbRepository) BySession(ctx context.Context, sessionID types.ID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	return r.read(ctx, esdb.Start{}, esdb.Forwards, limit, func(e *Entry) bool {
		return e.SessionID == sessionID
	})
}

// Verify re-walks the chain from the start
func (r *EsdbRepository) Verify(ctx context.Context, limit int) (*VerifyResult, error) {
	if limit <= 0 {
		limit = 10000
	}
	entries, err := r.read(ctx, esdb.Start{}, esdb.Forwards, limit, nil)
	if err != nil {
		return nil, err
	}
	return VerifyChain(entries)
}

func (r *EsdbRepository) read(ctx context.Context, from esdb.StreamPosition, direction esdb.Direction, limit int, keep func(*Entry) bool) ([]Entry, error) {
	stream, err := r.client.ReadStream(ctx, auditStream, esdb.ReadStreamOptions{
		From:      from,
		Direction: direction,
	}, uint64(limit))
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit stream: %w", err)
	}
	defer stream.Close()

	var entries []Entry
	for {
		resolved, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				break
			}
			return nil, fmt.Errorf("failed to read audit stream: %w", err)
		}
		if resolved.Event == nil {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(resolved.Event.Data, &entry); err != nil {
			continue
		}
		if keep == nil || keep(&entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
