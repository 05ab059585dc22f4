package board

import (
	"context"
	"errors"
	"log"
	"time"

	"playline/internal/domain"
)

const DefaultPollInterval = 5 * time.Second

var ErrBoardNotFound = errors.New("board not found")

// Fetcher loads the public board projection for a join code.
type Fetcher interface {
	BoardSnapshot(ctx context.Context, code string) (*domain.BoardSnapshot, error)
}

// Poller fetches the board on a fixed interval from a single goroutine, so
// polls never overlap and results are applied in the order they were made.
type Poller struct {
	Fetcher    Fetcher
	Code       string
	Interval   time.Duration
	Thresholds Thresholds
	Logger     *log.Logger
	Now        func() time.Time
	// OnUpdate is called after every poll, failed or not.
	OnUpdate func(View)

	state tracker
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Poller) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

func (p *Poller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultPollInterval
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()
	for {
		p.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll performs one fetch bounded by the poll interval. A failure keeps the
// previous snapshot.
func (p *Poller) Poll(ctx context.Context) View {
	pctx, cancel := context.WithTimeout(ctx, p.interval())
	defer cancel()
	snap, err := p.Fetcher.BoardSnapshot(pctx, p.Code)
	switch {
	case err != nil:
		p.logger().Printf("board: poll.fail code=%s: %v", p.Code, err)
		p.state.failure(err)
	case snap == nil:
		p.state.failure(ErrBoardNotFound)
	default:
		p.state.success(snap, p.now())
	}
	v := p.Current()
	if p.OnUpdate != nil {
		p.OnUpdate(v)
	}
	return v
}

// Current returns the latest view without fetching.
func (p *Poller) Current() View {
	return p.state.view(p.now(), p.Thresholds)
}
