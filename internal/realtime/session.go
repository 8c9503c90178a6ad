package realtime

import (
	"context"
	"encoding/json"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/config"
	"github.com/hashbid/backend/internal/middleware"
	"github.com/hashbid/backend/internal/models"
	"github.com/hashbid/backend/internal/services"
)

// AuctionReader is the read-side slice of the auction store the session
// layer needs; the status cache satisfies it.
type AuctionReader interface {
	GetAuction(ctx context.Context, id string) (*models.Auction, error)
}

// SessionHandlers owns the inbound event handlers for one hub.
type SessionHandlers struct {
	hub      *Hub
	bids     *services.BidService
	auctions AuctionReader
	limiter  RateLimiter
	security *SecurityLogger
	cfg      *config.RateLimitConfig
}

func NewSessionHandlers(hub *Hub, bids *services.BidService, auctions AuctionReader, limiter RateLimiter, security *SecurityLogger, cfg *config.RateLimitConfig) *SessionHandlers {
	return &SessionHandlers{hub: hub, bids: bids, auctions: auctions, limiter: limiter, security: security, cfg: cfg}
}

// Register wires every inbound event into the dispatch table.
func (s *SessionHandlers) Register(r *Router) {
	r.Handle("authenticate", s.authenticate(r))
	r.Handle("join_auction", s.joinAuction(r))
	r.Handle("leave_auction", s.leaveAuction(r))
	r.Handle("place_bid", s.placeBid(r))
	r.Handle("get_auction_status", s.auctionStatus(r))
}

type authenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

type roomPayload struct {
	AuctionID string `json:"auction_id" validate:"required"`
}

type placeBidPayload struct {
	AuctionID string         `json:"auction_id" validate:"required"`
	Amount    int64          `json:"amount" validate:"required,gt=0"`
	BidType   string         `json:"bid_type" validate:"omitempty,oneof=REGULAR BUY_NOW"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *SessionHandlers) authenticate(r *Router) HandlerFunc {
	return func(ctx context.Context, c *Conn, data json.RawMessage) error {
		var payload authenticatePayload
		if err := r.Bind(data, &payload); err != nil {
			c.SendError("INVALID_PAYLOAD", err.Error())
			return nil
		}

		bidderID, err := middleware.ValidateToken(payload.Token)
		if err != nil {
			s.security.AuthFailure(c.RemoteIP(), err)
			c.SendError("AUTH_FAILED", "token rejected")
			return nil
		}

		s.hub.Bind(c, bidderID)
		c.Send(models.EventConnectionConfirmed, map[string]any{
			"authenticated": true,
			"bidder_id":     bidderID,
		})
		return nil
	}
}

func (s *SessionHandlers) joinAuction(r *Router) HandlerFunc {
	return func(ctx context.Context, c *Conn, data json.RawMessage) error {
		var payload roomPayload
		if err := r.Bind(data, &payload); err != nil {
			c.SendError("INVALID_PAYLOAD", err.Error())
			return nil
		}

		auction, err := s.auctions.GetAuction(ctx, payload.AuctionID)
		if err != nil {
			c.SendError(bidderrors.Code(err), "auction not found")
			return nil
		}

		s.hub.Join(c, auction.ID)
		c.Send(models.EventAuctionStatus, auction)
		if bidderID := c.BidderID(); bidderID != "" {
			s.hub.ToRoom(auction.ID, models.EventUserJoined, models.PresenceEvent{
				AuctionID: auction.ID,
				BidderID:  bidderID,
			})
		}
		return nil
	}
}

func (s *SessionHandlers) leaveAuction(r *Router) HandlerFunc {
	return func(ctx context.Context, c *Conn, data json.RawMessage) error {
		var payload roomPayload
		if err := r.Bind(data, &payload); err != nil {
			c.SendError("INVALID_PAYLOAD", err.Error())
			return nil
		}

		s.hub.Leave(c, payload.AuctionID)
		if bidderID := c.BidderID(); bidderID != "" {
			s.hub.ToRoom(payload.AuctionID, models.EventUserLeft, models.PresenceEvent{
				AuctionID: payload.AuctionID,
				BidderID:  bidderID,
			})
		}
		return nil
	}
}

// placeBid guards the admission pipeline: authentication first, then the
// per-bidder and per-IP sliding windows, then synchronous validation.
// Rejection reasons go to the submitter only.
func (s *SessionHandlers) placeBid(r *Router) HandlerFunc {
	return func(ctx context.Context, c *Conn, data json.RawMessage) error {
		bidderID := c.BidderID()
		if bidderID == "" {
			c.Send(models.EventBidError, models.BidErrorEvent{
				Code:    "AUTH_REQUIRED",
				Message: "authenticate before bidding",
			})
			return nil
		}

		var payload placeBidPayload
		if err := r.Bind(data, &payload); err != nil {
			c.Send(models.EventBidError, models.BidErrorEvent{Code: "INVALID_PAYLOAD", Message: err.Error()})
			return nil
		}

		for _, key := range []string{"bid:bidder:" + bidderID, "bid:ip:" + c.RemoteIP()} {
			allowed, err := s.limiter.Allow(ctx, key, s.cfg.BidsPerMin)
			if err != nil {
				// Degraded limiter must not block bidding.
				continue
			}
			if !allowed {
				s.security.RateLimited("bid", bidderID, c.RemoteIP())
				c.Send(models.EventBidError, models.BidErrorEvent{
					AuctionID: payload.AuctionID,
					Code:      bidderrors.Code(bidderrors.ErrRateLimited),
					Message:   "too many bid attempts, slow down",
				})
				return nil
			}
		}

		bidType := models.BidType(payload.BidType)
		if bidType == "" {
			bidType = models.BidTypeRegular
		}

		bid, jobID, err := s.bids.PlaceBid(ctx, payload.AuctionID, bidderID, payload.Amount, bidType)
		if err != nil {
			c.Send(models.EventBidError, models.BidErrorEvent{
				AuctionID: payload.AuctionID,
				Code:      bidderrors.Code(err),
				Message:   err.Error(),
			})
			return nil
		}

		c.Send(models.EventBidPlaced, models.BidPlacedEvent{
			JobID:     jobID,
			AuctionID: bid.AuctionID,
			Amount:    bid.Amount,
			Type:      bid.Type,
			Status:    string(models.BidPending),
		})
		return nil
	}
}

func (s *SessionHandlers) auctionStatus(r *Router) HandlerFunc {
	return func(ctx context.Context, c *Conn, data json.RawMessage) error {
		var payload roomPayload
		if err := r.Bind(data, &payload); err != nil {
			c.SendError("INVALID_PAYLOAD", err.Error())
			return nil
		}

		auction, err := s.auctions.GetAuction(ctx, payload.AuctionID)
		if err != nil {
			c.SendError(bidderrors.Code(err), "auction not found")
			return nil
		}
		c.Send(models.EventAuctionStatus, auction)
		return nil
	}
}
