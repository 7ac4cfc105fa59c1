package session

import (
	"context"
	"fmt"
	"time"
)

// StartJanitor runs CleanupSessions every CleanupInterval until ctx is
// cancelled or StopJanitor is called. Starting a running janitor is a no-op.
func (s *Store) StartJanitor(ctx context.Context) {
	s.janitorMu.Lock()
	defer s.janitorMu.Unlock()

	if s.stopJanitor != nil {
		select {
		case <-s.janitorDone:
			// the previous loop exited with its context; start a new one
		default:
			return
		}
	}
	s.stopJanitor = make(chan struct{})
	s.janitorDone = make(chan struct{})

	go s.runJanitor(ctx, s.stopJanitor, s.janitorDone)
}

func (s *Store) runJanitor(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep keeps a panicking hook from killing the janitor loop
func (s *Store) sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in session cleanup", fmt.Errorf("panic: %v", r), map[string]interface{}{
				"routine": "session_cleanup",
			})
		}
	}()
	s.CleanupSessions()
}

// StopJanitor stops the cleanup loop and waits for it to exit
func (s *Store) StopJanitor() {
	s.janitorMu.Lock()
	stop, done := s.stopJanitor, s.janitorDone
	s.stopJanitor, s.janitorDone = nil, nil
	s.janitorMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
