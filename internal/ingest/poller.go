package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/bryan-buckman/feedpool/internal/database"
)

// Poller runs continuous polling.
type Poller struct {
	fetcher  *Fetcher
	db       database.Store
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	// interval overrides the stored polling interval when non-zero.
	interval time.Duration
}

// NewPoller creates a background poller.
func NewPoller(db database.Store, fetcher *Fetcher) *Poller {
	return &Poller{
		fetcher:  fetcher,
		db:       db,
		stopChan: make(chan struct{}),
	}
}

func (p *Poller) nextInterval() time.Duration {
	if p.interval > 0 {
		return p.interval
	}
	mins, _ := p.db.GetPollingInterval()
	if mins < database.MinPollingIntervalMinutes {
		mins = database.MinPollingIntervalMinutes
	}
	return time.Duration(mins) * time.Minute
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			interval := p.nextInterval()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			go func() {
				select {
				case <-p.stopChan:
					cancel()
				case <-ctx.Done():
				}
			}()
			results, err := p.fetcher.FetchAll(ctx)
			cancel()

			if err != nil {
				p.fetcher.logger.Error().Err(err).Msg("poll failed")
			} else {
				total := 0
				for _, c := range results {
					total += c
				}
				p.fetcher.logger.Info().
					Int("new_records", total).
					Int("sources", len(results)).
					Dur("next_in", interval).
					Msg("poll complete")
			}

			timer := time.NewTimer(interval)
			select {
			case <-p.stopChan:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// Stop stops the poller gracefully.
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}
