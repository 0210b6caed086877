package service

import (
	"context"
	"time"
)

// StartCheckpointJob checkpoints the book on a fixed interval until
// the context is cancelled. Each checkpoint takes the writer lock, so
// it runs between mutations, never during one.
func (s *OrderService) StartCheckpointJob(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				// Failures are logged inside Checkpoint; the live book
				// is unaffected and the next tick retries.
				_ = s.Checkpoint()
			}
		}
	}()
}
