package pix

import (
	"context"
	"log"
	"time"
)

// StartExpirySweeper periodically moves overdue pending transactions to
// expired so charges nobody polls anymore still reach a terminal state.
// It runs until ctx is canceled.
func StartExpirySweeper(ctx context.Context, repo Repository, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Printf("[PIX] expiry sweeper started, interval %s", interval)
		for {
			select {
			case <-ctx.Done():
				log.Println("[PIX] expiry sweeper stopped")
				return
			case <-ticker.C:
				n, err := repo.ExpireOverdue(time.Now())
				if err != nil {
					log.Printf("[PIX] expiry sweep failed: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("[PIX] expired %d overdue transaction(s)", n)
				}
			}
		}
	}()
}
