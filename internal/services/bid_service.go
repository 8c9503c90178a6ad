package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/config"
	"github.com/hashbid/backend/internal/models"
	"github.com/hashbid/backend/internal/queue"
)

// Broadcaster fans events out to realtime subscribers. The realtime hub
// implements it; services never touch sockets directly.
type Broadcaster interface {
	ToRoom(auctionID, event string, payload any)
	ToBidder(bidderID, event string, payload any)
}

// NopBroadcaster drops every event. Used when the realtime layer is not
// wired, and in tests that do not assert on fanout.
type NopBroadcaster struct{}

func (NopBroadcaster) ToRoom(string, string, any)   {}
func (NopBroadcaster) ToBidder(string, string, any) {}

// BidService is the bid admission pipeline: synchronous validation and
// enqueueing on the submit side, and the worker-side processor that
// serializes conflicting updates through the highest-bid compare-and-set.
type BidService struct {
	store     AuctionStore
	ledger    Ledger
	jobs      queue.Store
	broadcast Broadcaster
	cfg       *config.BiddingConfig
	queueCfg  *config.QueueConfig
}

func NewBidService(store AuctionStore, ledger Ledger, jobs queue.Store, broadcast Broadcaster, cfg *config.BiddingConfig, queueCfg *config.QueueConfig) *BidService {
	if broadcast == nil {
		broadcast = NopBroadcaster{}
	}
	return &BidService{
		store:     store,
		ledger:    ledger,
		jobs:      jobs,
		broadcast: broadcast,
		cfg:       cfg,
		queueCfg:  queueCfg,
	}
}

// PlaceBid validates a bid request against current auction state and, if
// admissible, records a PENDING bid and enqueues the processing job.
// Acceptance is asynchronous: the caller gets the job id back and the
// outcome arrives over the realtime channel.
func (s *BidService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64, bidType models.BidType) (*models.Bid, string, error) {
	auction, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, "", err
	}

	if err := s.validate(ctx, auction, bidderID, amount, bidType); err != nil {
		return nil, "", err
	}

	now := time.Now()
	bid := &models.Bid{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Type:      bidType,
		Status:    models.BidPending,
		PlacedAt:  now,
		UpdatedAt: now,
	}
	if err := s.store.RecordBid(ctx, bid); err != nil {
		return nil, "", fmt.Errorf("record bid: %w", err)
	}

	payload, err := json.Marshal(queue.BidJobPayload{
		BidID:     bid.ID,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		BidType:   string(bidType),
	})
	if err != nil {
		return nil, "", err
	}

	job := &queue.Job{
		ID:          uuid.NewString(),
		AuctionID:   auctionID,
		Type:        queue.TypePlaceBid,
		Payload:     payload,
		MaxAttempts: s.queueCfg.MaxAttempts,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, "", fmt.Errorf("enqueue bid job: %w", err)
	}

	s.watchResolution(bid.ID, auctionID, bidderID, job.ID)
	return bid, job.ID, nil
}

// validate applies the synchronous admission rules. Each rejection maps
// to a distinct reason code echoed to the bidder only, never broadcast.
func (s *BidService) validate(ctx context.Context, auction *models.Auction, bidderID string, amount int64, bidType models.BidType) error {
	if auction.Status != models.AuctionActive {
		return fmt.Errorf("auction %s is %s: %w", auction.ID, auction.Status, bidderrors.ErrAuctionNotActive)
	}

	whitelisted, err := s.store.IsWhitelisted(ctx, auction.ID, bidderID)
	if err != nil {
		return err
	}
	if !whitelisted {
		return fmt.Errorf("bidder %s on auction %s: %w", bidderID, auction.ID, bidderrors.ErrNotWhitelisted)
	}

	if amount < s.cfg.GlobalMinBid || amount > s.cfg.GlobalMaxBid {
		return fmt.Errorf("amount %d outside [%d, %d]: %w", amount, s.cfg.GlobalMinBid, s.cfg.GlobalMaxBid, bidderrors.ErrBidOutOfBounds)
	}

	if bidType == models.BidTypeBuyNow {
		if auction.BuyNowPrice == 0 || amount != auction.BuyNowPrice {
			return fmt.Errorf("amount %d, buy-now price %d: %w", amount, auction.BuyNowPrice, bidderrors.ErrBuyNowMismatch)
		}
		// Once regular bidding reaches the buy-now price the shortcut is
		// gone; accepting it would move the highest amount backwards.
		if auction.Highest != nil && auction.Highest.Amount >= auction.BuyNowPrice {
			return fmt.Errorf("leading bid %d, buy-now price %d: %w", auction.Highest.Amount, auction.BuyNowPrice, bidderrors.ErrBuyNowUnavailable)
		}
		return nil
	}

	if min := auction.MinAcceptableBid(); amount < min {
		return fmt.Errorf("amount %d below minimum %d: %w", amount, min, bidderrors.ErrBidTooLow)
	}
	return nil
}

// ProcessJob is the worker-side handler. It re-validates against live
// state, pairs the ledger hold/release with the highest-bid
// compare-and-set, and retries the whole unit on StaleWrite.
//
// Processing is idempotent per job: a replayed job whose bid already
// left PENDING returns without touching the ledger again.
func (s *BidService) ProcessJob(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.TypePlaceBid:
		var payload queue.BidJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode bid payload: %w", err)
		}
		return s.processBid(ctx, &payload)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (s *BidService) processBid(ctx context.Context, payload *queue.BidJobPayload) error {
	bid, err := s.store.GetBid(ctx, payload.BidID)
	if err != nil {
		return err
	}
	if bid.Status != models.BidPending {
		// Duplicate delivery of an already-resolved job.
		return nil
	}

	for attempt := 0; attempt < s.cfg.CASRetries; attempt++ {
		auction, err := s.store.GetAuction(ctx, payload.AuctionID)
		if err != nil {
			return err
		}

		// Re-validate against live state: the leading amount may have
		// advanced since admission.
		if err := s.validate(ctx, auction, payload.BidderID, payload.Amount, models.BidType(payload.BidType)); err != nil {
			if bidderrors.IsValidation(err) {
				return s.reject(ctx, bid, err)
			}
			return err
		}

		accepted, err := s.tryAccept(ctx, auction, bid)
		if errors.Is(err, bidderrors.ErrStaleWrite) {
			continue
		}
		if errors.Is(err, bidderrors.ErrInsufficientBalance) {
			return s.reject(ctx, bid, err)
		}
		if err != nil {
			return err
		}
		if accepted && bid.Type == models.BidTypeBuyNow {
			return s.Finalize(ctx, auction.ID)
		}
		return nil
	}

	// The bid must not stay PENDING forever: resolve it for the submitter
	// even though the job itself is reported as failed for metrics.
	exhausted := fmt.Errorf("bid %s on auction %s: %w", bid.ID, payload.AuctionID, bidderrors.ErrConcurrencyExhausted)
	if err := s.reject(ctx, bid, exhausted); err != nil {
		return err
	}
	return exhausted
}

// tryAccept performs one pass of the accept unit: hold the new bidder's
// funds, install the bid via compare-and-set, then release the previous
// holder and flip bid statuses. A stale CAS compensates the fresh hold
// before the caller retries, so a hold is never left unpaired.
func (s *BidService) tryAccept(ctx context.Context, auction *models.Auction, bid *models.Bid) (bool, error) {
	var priorAmount int64
	var prior *models.HighestBid
	if auction.Highest != nil {
		prior = auction.Highest
		priorAmount = prior.Amount
	}

	if err := s.ledger.Hold(ctx, bid.BidderID, auction.ID, bid.Amount); err != nil {
		return false, err
	}

	if err := s.store.SetHighestBid(ctx, auction.ID, bid.ID, bid.Amount, bid.BidderID, priorAmount); err != nil {
		if releaseErr := s.ledger.Release(ctx, bid.BidderID, auction.ID, bid.Amount); releaseErr != nil {
			return false, fmt.Errorf("compensating release after stale write: %v: %w", releaseErr, bidderrors.ErrInvariantViolation)
		}
		return false, err
	}

	if prior != nil {
		if err := s.ledger.Release(ctx, prior.BidderID, auction.ID, prior.Amount); err != nil {
			return false, fmt.Errorf("release outbid holder %s: %w", prior.BidderID, err)
		}
		if err := s.store.UpdateBidStatus(ctx, prior.BidID, models.BidOutbid); err != nil {
			return false, err
		}
		s.broadcast.ToBidder(prior.BidderID, models.EventBidOutbid, models.BidOutbidEvent{
			AuctionID: auction.ID,
			BidID:     prior.BidID,
			Amount:    prior.Amount,
			NewAmount: bid.Amount,
		})
	}

	if err := s.store.UpdateBidStatus(ctx, bid.ID, models.BidAccepted); err != nil {
		return false, err
	}
	bid.Status = models.BidAccepted

	s.broadcast.ToRoom(auction.ID, models.EventNewBid, models.NewBidEvent{Bid: bid, Timestamp: time.Now()})
	s.broadcast.ToBidder(bid.BidderID, models.EventBidPlaced, models.BidPlacedEvent{
		AuctionID: auction.ID,
		Amount:    bid.Amount,
		Type:      bid.Type,
		Status:    string(models.BidAccepted),
	})
	return true, nil
}

func (s *BidService) reject(ctx context.Context, bid *models.Bid, cause error) error {
	if err := s.store.UpdateBidStatus(ctx, bid.ID, models.BidRejected); err != nil {
		return err
	}
	s.broadcast.ToBidder(bid.BidderID, models.EventBidError, models.BidErrorEvent{
		AuctionID: bid.AuctionID,
		Code:      bidderrors.Code(cause),
		Message:   cause.Error(),
	})
	return nil
}

// Finalize ends an auction: transition to ENDED, settle the winner's
// hold, defensively release anything still held by other bidders, and
// broadcast the outcome. BuyNow acceptance and the lifecycle scheduler
// share this path.
func (s *BidService) Finalize(ctx context.Context, auctionID string) error {
	if err := s.store.TransitionStatus(ctx, auctionID, models.AuctionActive, models.AuctionEnded); err != nil {
		if errors.Is(err, bidderrors.ErrInvalidTransition) {
			// Another finalizer won the race.
			return nil
		}
		return err
	}

	auction, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}

	ended := models.AuctionEndedEvent{AuctionID: auctionID}
	if auction.Highest != nil {
		winner := auction.Highest
		if err := s.ledger.Settle(ctx, winner.BidderID, auctionID, winner.Amount); err != nil {
			return fmt.Errorf("settle winner %s: %w", winner.BidderID, err)
		}
		if err := s.store.UpdateBidStatus(ctx, winner.BidID, models.BidWon); err != nil {
			return err
		}
		if err := s.store.SetWinner(ctx, auctionID, winner.BidderID, winner.Amount); err != nil {
			return err
		}
		ended.WinnerID = winner.BidderID
		ended.FinalPrice = winner.Amount
	}

	if err := s.reconcileHolds(ctx, auction); err != nil {
		return err
	}

	s.broadcast.ToRoom(auctionID, models.EventAuctionEnded, ended)
	log.Printf("[AUCTION] %s ended, winner=%q price=%d", auctionID, ended.WinnerID, ended.FinalPrice)
	return nil
}

// reconcileHolds releases funds still held against the auction by anyone
// other than the winner. With correct pairing there is nothing to do;
// this is the safety net for crashed workers.
func (s *BidService) reconcileHolds(ctx context.Context, auction *models.Auction) error {
	bids, err := s.store.ListBids(ctx, auction.ID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, bid := range bids {
		if seen[bid.BidderID] {
			continue
		}
		seen[bid.BidderID] = true
		if auction.Highest != nil && bid.BidderID == auction.Highest.BidderID {
			continue
		}
		held, err := s.ledger.HeldFor(ctx, bid.BidderID, auction.ID)
		if err != nil {
			return err
		}
		if held > 0 {
			log.Printf("[AUCTION] %s: releasing stray hold of %d for %s", auction.ID, held, bid.BidderID)
			if err := s.ledger.Release(ctx, bid.BidderID, auction.ID, held); err != nil {
				return err
			}
			if err := s.store.UpdateBidStatus(ctx, bid.ID, models.BidRefunded); err != nil {
				return err
			}
		}
	}
	return nil
}

// watchResolution surfaces a bid_error to the submitter when the job has
// not reached a terminal state within the configured window. The job is
// never cancelled; the client reconciles via the final broadcast or a
// status query.
func (s *BidService) watchResolution(bidID, auctionID, bidderID, jobID string) {
	if s.cfg.ResolutionTimeout <= 0 {
		return
	}
	time.AfterFunc(s.cfg.ResolutionTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		bid, err := s.store.GetBid(ctx, bidID)
		if err != nil || bid.Status != models.BidPending {
			return
		}
		s.broadcast.ToBidder(bidderID, models.EventBidError, models.BidErrorEvent{
			AuctionID: auctionID,
			Code:      "RESOLUTION_TIMEOUT",
			Message:   fmt.Sprintf("bid %s (job %s) has not resolved yet; awaiting final broadcast", bidID, jobID),
		})
	})
}
