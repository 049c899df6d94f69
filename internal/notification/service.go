// Package notification fans prescription outcome notices out to the
// configured delivery channels. Delivery is best effort and asynchronous;
// a failed channel never blocks the workflow.
package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Service queues notices and delivers them through its providers
type Service struct {
	providers []Provider

	noticeCh chan *Notice
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewService creates a notification service with the given providers
func NewService(providers ...Provider) *Service {
	return &Service{
		providers: providers,
		noticeCh:  make(chan *Notice, 256),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the delivery workers
func (s *Service) Start(workers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	slog.Info("notification service started", "workers", workers, "providers", len(s.providers))
}

// Stop drains the queue and waits for the workers
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}

// Notify queues a notice for delivery. A full queue drops the notice with
// a log entry instead of blocking the caller.
func (s *Service) Notify(notice *Notice) {
	if notice.ID.IsZero() {
		notice.ID = types.NewID()
	}
	if notice.CreatedAt.IsZero() {
		notice.CreatedAt = time.Now()
	}

	select {
	case s.noticeCh <- notice:
	default:
		slog.Warn("notification queue full, dropping notice",
			"kind", notice.Kind, "session_id", notice.SessionID)
	}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case notice := <-s.noticeCh:
			s.deliver(notice)
		case <-s.stopCh:
			// drain what is already queued
			for {
				select {
				case notice := <-s.noticeCh:
					s.deliver(notice)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) deliver(notice *Notice) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, p := range s.providers {
		if err := p.Send(ctx, notice); err != nil {
			slog.Error("notice delivery failed",
				"provider", p.Name(),
				"kind", notice.Kind,
				"session_id", notice.SessionID,
				"error", err)
		}
	}
}
