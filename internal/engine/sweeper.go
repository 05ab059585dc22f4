package engine

import (
	"context"
	"time"
)

const (
	defaultDueActionInterval = time.Second
	defaultDueActionBatch    = 50
)

// Sweeper runs delayed trigger actions and archives old sessions until its
// context is cancelled.
type Sweeper struct {
	Engine          Engine
	ActionInterval  time.Duration
	ArchiveInterval time.Duration
	Batch           int
}

func NewSweeper(e Engine) *Sweeper {
	return &Sweeper{
		Engine:          e,
		ActionInterval:  defaultDueActionInterval,
		ArchiveInterval: e.config().SweepInterval(),
		Batch:           defaultDueActionBatch,
	}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	actionEvery := s.ActionInterval
	if actionEvery <= 0 {
		actionEvery = defaultDueActionInterval
	}
	archiveEvery := s.ArchiveInterval
	if archiveEvery <= 0 {
		archiveEvery = time.Hour
	}
	actions := time.NewTicker(actionEvery)
	defer actions.Stop()
	archive := time.NewTicker(archiveEvery)
	defer archive.Stop()

	s.archive(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-actions.C:
			s.runDue(ctx)
		case <-archive.C:
			s.archive(ctx)
		}
	}
}

func (s *Sweeper) runDue(ctx context.Context) {
	batch := s.Batch
	if batch <= 0 {
		batch = defaultDueActionBatch
	}
	n, err := s.Engine.RunDueActions(ctx, batch)
	if err != nil && ctx.Err() == nil {
		s.Engine.logger().Printf("sweeper: due actions failed: %v", err)
		return
	}
	if n > 0 {
		s.Engine.logger().Printf("sweeper: due actions ran=%d", n)
	}
}

func (s *Sweeper) archive(ctx context.Context) {
	n, err := s.Engine.ArchiveOldSessions(ctx, 0)
	if err != nil && ctx.Err() == nil {
		s.Engine.logger().Printf("sweeper: archive failed: %v", err)
		return
	}
	if n > 0 {
		s.Engine.logger().Printf("sweeper: archived sessions=%d", n)
	}
}
