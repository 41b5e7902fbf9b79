package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired sessions are purged.
const DefaultSweepInterval = time.Hour

// Sweeper periodically deletes expired sessions.
type Sweeper struct {
	sessions *SessionManager
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. A non-positive interval uses
// DefaultSweepInterval.
func NewSweeper(sessions *SessionManager, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{sessions: sessions, interval: interval, logger: logger}
}

// Start runs one sweep immediately and then one per interval until
// Shutdown. Non-blocking.
func (s *Sweeper) Start() {
	if s == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the loop and waits for a running sweep to finish.
func (s *Sweeper) Shutdown() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.sessions.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("session sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("expired sessions deleted", "count", n)
	}
}
