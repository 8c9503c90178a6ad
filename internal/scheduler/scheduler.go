package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/config"
	"github.com/hashbid/backend/internal/models"
	"github.com/hashbid/backend/internal/services"
)

// Finalizer ends an auction and settles its ledger. The bid service
// implements it; buy-now acceptance and the scheduler share the path.
type Finalizer interface {
	Finalize(ctx context.Context, auctionID string) error
}

// LifecycleScheduler advances auctions through their phases on a timer,
// announces ending-soon offsets and finalizes ended auctions.
type LifecycleScheduler struct {
	store     services.AuctionStore
	finalizer Finalizer
	broadcast services.Broadcaster
	cfg       *config.SchedulerConfig
	cron      *cron.Cron
	now       func() time.Time
}

func New(store services.AuctionStore, finalizer Finalizer, broadcast services.Broadcaster, cfg *config.SchedulerConfig) *LifecycleScheduler {
	if broadcast == nil {
		broadcast = services.NopBroadcaster{}
	}
	return &LifecycleScheduler{
		store:     store,
		finalizer: finalizer,
		broadcast: broadcast,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start registers the tick with a seconds-capable cron runner.
func (s *LifecycleScheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %s", s.cfg.TickEvery)
	if _, err := s.cron.AddFunc(spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule lifecycle tick: %w", err)
	}
	s.cron.Start()
	log.Printf("[SCHEDULER] lifecycle tick every %s", s.cfg.TickEvery)
	return nil
}

// Stop halts the ticker and waits for a running tick to finish.
func (s *LifecycleScheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Tick runs one pass over every unfinished auction. Transitions use the
// store's optimistic from/to check, so overlapping ticks cannot apply a
// phase twice: the loser just sees InvalidTransition and moves on.
func (s *LifecycleScheduler) Tick(ctx context.Context) {
	auctions, err := s.store.ListUnfinished(ctx)
	if err != nil {
		log.Printf("[SCHEDULER] list auctions: %v", err)
		return
	}

	for _, auction := range auctions {
		if err := s.advance(ctx, auction); err != nil {
			log.Printf("[SCHEDULER] auction %s: %v", auction.ID, err)
		}
	}
}

func (s *LifecycleScheduler) advance(ctx context.Context, auction *models.Auction) error {
	now := s.now()

	switch auction.Status {
	case models.AuctionDraft:
		if !now.Before(auction.WhitelistOpenAt) {
			return s.transition(ctx, auction, models.AuctionDraft, models.AuctionWhitelistOpen)
		}

	case models.AuctionWhitelistOpen:
		count, err := s.store.WhitelistCount(ctx, auction.ID)
		if err != nil {
			return err
		}
		if !now.Before(auction.WhitelistCloseAt) || count >= auction.WhitelistCapacity {
			return s.transition(ctx, auction, models.AuctionWhitelistOpen, models.AuctionWhitelistClosed)
		}

	case models.AuctionWhitelistClosed:
		if !now.Before(auction.StartAt) {
			return s.transition(ctx, auction, models.AuctionWhitelistClosed, models.AuctionActive)
		}

	case models.AuctionActive:
		if !now.Before(auction.EndAt) {
			return s.finalizer.Finalize(ctx, auction.ID)
		}
		s.announceEndingSoon(ctx, auction, now)
	}
	return nil
}

func (s *LifecycleScheduler) transition(ctx context.Context, auction *models.Auction, from, to models.AuctionStatus) error {
	err := s.store.TransitionStatus(ctx, auction.ID, from, to)
	if errors.Is(err, bidderrors.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("[SCHEDULER] auction %s: %s -> %s", auction.ID, from, to)
	s.broadcast.ToRoom(auction.ID, models.EventAuctionStatus, map[string]any{
		"auction_id": auction.ID,
		"status":     to,
	})
	return nil
}

// announceEndingSoon fires each configured offset at most once per
// auction. MarkEndingSoonFired is the idempotency gate, so overlapping
// ticks cannot double-announce. When several offsets are due on one
// tick only the smallest is broadcast: the rest would carry misleading
// minutes_left, either because the Active window was shorter than their
// offset to begin with or because a late tick skipped past them. Those
// are marked fired without a broadcast.
func (s *LifecycleScheduler) announceEndingSoon(ctx context.Context, auction *models.Auction, now time.Time) {
	left := auction.EndAt.Sub(now)
	if left <= 0 {
		return
	}
	activeSpan := auction.EndAt.Sub(auction.StartAt)

	announce := 0
	for _, offset := range s.cfg.EndingSoonOffsets {
		window := time.Duration(offset) * time.Minute
		if left > window || auction.HasFired(offset) {
			continue
		}
		if window < activeSpan && (announce == 0 || offset < announce) {
			announce = offset
		}
	}

	for _, offset := range s.cfg.EndingSoonOffsets {
		window := time.Duration(offset) * time.Minute
		if left > window || auction.HasFired(offset) {
			continue
		}
		fired, err := s.store.MarkEndingSoonFired(ctx, auction.ID, offset)
		if err != nil {
			log.Printf("[SCHEDULER] mark ending-soon %s/%dm: %v", auction.ID, offset, err)
			continue
		}
		if !fired || offset != announce {
			continue
		}
		s.broadcast.ToRoom(auction.ID, models.EventAuctionEndingSoon, models.EndingSoonEvent{
			AuctionID:   auction.ID,
			MinutesLeft: offset,
		})
		log.Printf("[SCHEDULER] auction %s ending in ~%dm", auction.ID, offset)
	}
}
