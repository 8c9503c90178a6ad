package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/models"
)

// MemoryAuctionStore is the in-process AuctionStore used by single-node
// deployments and tests.
type MemoryAuctionStore struct {
	mu        sync.RWMutex
	auctions  map[string]*models.Auction
	bids      map[string]*models.Bid
	whitelist map[string]map[string]*models.WhitelistEntry // auctionID -> bidderID -> entry
}

func NewMemoryAuctionStore() *MemoryAuctionStore {
	return &MemoryAuctionStore{
		auctions:  make(map[string]*models.Auction),
		bids:      make(map[string]*models.Bid),
		whitelist: make(map[string]map[string]*models.WhitelistEntry),
	}
}

func copyAuction(a *models.Auction) *models.Auction {
	copied := *a
	if a.Highest != nil {
		highest := *a.Highest
		copied.Highest = &highest
	}
	copied.FiredOffsets = append([]int(nil), a.FiredOffsets...)
	return &copied
}

func (s *MemoryAuctionStore) CreateAuction(ctx context.Context, auction *models.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.auctions[auction.ID]; exists {
		return fmt.Errorf("auction %s already exists", auction.ID)
	}
	if auction.Status == "" {
		auction.Status = models.AuctionDraft
	}
	now := time.Now()
	auction.Version = 1
	auction.CreatedAt, auction.UpdatedAt = now, now
	s.auctions[auction.ID] = copyAuction(auction)
	return nil
}

func (s *MemoryAuctionStore) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auction, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, bidderrors.ErrAuctionNotFound)
	}
	return copyAuction(auction), nil
}

func (s *MemoryAuctionStore) ListActiveAuctions(ctx context.Context) ([]*models.Auction, error) {
	return s.listWhere(func(a *models.Auction) bool { return a.Status == models.AuctionActive })
}

func (s *MemoryAuctionStore) ListUnfinished(ctx context.Context) ([]*models.Auction, error) {
	return s.listWhere(func(a *models.Auction) bool { return a.Status != models.AuctionEnded })
}

func (s *MemoryAuctionStore) listWhere(keep func(*models.Auction) bool) ([]*models.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Auction
	for _, auction := range s.auctions {
		if keep(auction) {
			out = append(out, copyAuction(auction))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndAt.Before(out[j].EndAt) })
	return out, nil
}

func (s *MemoryAuctionStore) JoinWhitelist(ctx context.Context, auctionID, bidderID string, fee int64) (*models.WhitelistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auction, ok := s.auctions[auctionID]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", auctionID, bidderrors.ErrAuctionNotFound)
	}
	if auction.Status != models.AuctionWhitelistOpen {
		return nil, fmt.Errorf("auction %s status %s: %w", auctionID, auction.Status, bidderrors.ErrWhitelistClosed)
	}

	entries := s.whitelist[auctionID]
	if entries == nil {
		entries = make(map[string]*models.WhitelistEntry)
		s.whitelist[auctionID] = entries
	}
	if _, joined := entries[bidderID]; joined {
		return nil, fmt.Errorf("bidder %s on auction %s: %w", bidderID, auctionID, bidderrors.ErrAlreadyJoined)
	}
	if len(entries) >= auction.WhitelistCapacity {
		return nil, fmt.Errorf("auction %s: %w", auctionID, bidderrors.ErrWhitelistFull)
	}

	entry := &models.WhitelistEntry{AuctionID: auctionID, BidderID: bidderID, PaidFee: fee, JoinedAt: time.Now()}
	entries[bidderID] = entry
	return entry, nil
}

func (s *MemoryAuctionStore) IsWhitelisted(ctx context.Context, auctionID, bidderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.whitelist[auctionID][bidderID]
	return ok, nil
}

func (s *MemoryAuctionStore) WhitelistCount(ctx context.Context, auctionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.whitelist[auctionID]), nil
}

func (s *MemoryAuctionStore) TransitionStatus(ctx context.Context, auctionID string, from, to models.AuctionStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, bidderrors.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auction, ok := s.auctions[auctionID]
	if !ok {
		return fmt.Errorf("auction %s: %w", auctionID, bidderrors.ErrAuctionNotFound)
	}
	if auction.Status != from {
		return fmt.Errorf("auction %s is %s, not %s: %w", auctionID, auction.Status, from, bidderrors.ErrInvalidTransition)
	}
	auction.Status = to
	auction.Version++
	auction.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryAuctionStore) RecordBid(ctx context.Context, bid *models.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *bid
	s.bids[bid.ID] = &copied
	return nil
}

func (s *MemoryAuctionStore) GetBid(ctx context.Context, bidID string) (*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bid, ok := s.bids[bidID]
	if !ok {
		return nil, fmt.Errorf("bid %s not found", bidID)
	}
	copied := *bid
	return &copied, nil
}

func (s *MemoryAuctionStore) ListBids(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bids []*models.Bid
	for _, bid := range s.bids {
		if bid.AuctionID == auctionID {
			copied := *bid
			bids = append(bids, &copied)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].PlacedAt.Before(bids[j].PlacedAt) })
	return bids, nil
}

func (s *MemoryAuctionStore) UpdateBidStatus(ctx context.Context, bidID string, status models.BidStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bid, ok := s.bids[bidID]
	if !ok {
		return fmt.Errorf("bid %s not found", bidID)
	}
	bid.Status = status
	bid.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryAuctionStore) SetHighestBid(ctx context.Context, auctionID, bidID string, amount int64, bidderID string, expectedPrior int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auction, ok := s.auctions[auctionID]
	if !ok {
		return fmt.Errorf("auction %s: %w", auctionID, bidderrors.ErrAuctionNotFound)
	}
	var prior int64
	if auction.Highest != nil {
		prior = auction.Highest.Amount
	}
	if prior != expectedPrior {
		return fmt.Errorf("auction %s expected prior %d, have %d: %w", auctionID, expectedPrior, prior, bidderrors.ErrStaleWrite)
	}
	auction.Highest = &models.HighestBid{BidID: bidID, BidderID: bidderID, Amount: amount}
	auction.Version++
	auction.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryAuctionStore) MarkEndingSoonFired(ctx context.Context, auctionID string, offsetMinutes int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auction, ok := s.auctions[auctionID]
	if !ok {
		return false, fmt.Errorf("auction %s: %w", auctionID, bidderrors.ErrAuctionNotFound)
	}
	if auction.HasFired(offsetMinutes) {
		return false, nil
	}
	auction.FiredOffsets = append(auction.FiredOffsets, offsetMinutes)
	auction.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryAuctionStore) SetWinner(ctx context.Context, auctionID, winnerID string, finalPrice int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auction, ok := s.auctions[auctionID]
	if !ok {
		return fmt.Errorf("auction %s: %w", auctionID, bidderrors.ErrAuctionNotFound)
	}
	auction.WinnerID = winnerID
	auction.FinalPrice = finalPrice
	auction.UpdatedAt = time.Now()
	return nil
}
