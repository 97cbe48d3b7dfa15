package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// startHeartbeat writes keep-alive comments while the stream is idle so
// proxies do not close it during slow moderation or generation. The
// returned stop function waits for the ticker goroutine and is idempotent.
func (r *run) startHeartbeat() func() {
	interval := r.relay.cfg.KeepAlive
	pinger, ok := r.sink.(KeepAliver)
	if !ok || interval <= 0 {
		return func() {}
	}

	ctx := r.ctx
	logger := r.logger
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := pinger.KeepAlive(); err != nil {
					logger.Debug("keep-alive failed", zap.Error(err))
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
