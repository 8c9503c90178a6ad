package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/middleware"
	"github.com/hashbid/backend/internal/models"
	"github.com/hashbid/backend/internal/services"
)

// AuctionHandler serves the REST read surface plus whitelist admission
// and account operations. Bid placement itself only happens over the
// realtime gateway.
type AuctionHandler struct {
	store     services.AuctionStore
	cache     *services.StatusCache
	ledger    services.Ledger
	validator *services.ValidationHelper
}

func NewAuctionHandler(store services.AuctionStore, cache *services.StatusCache, ledger services.Ledger) *AuctionHandler {
	return &AuctionHandler{
		store:     store,
		cache:     cache,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

type createAuctionRequest struct {
	Title             string    `json:"title" validate:"required,min=3,max=120"`
	ItemRef           string    `json:"item_ref" validate:"required"`
	WhitelistOpenAt   time.Time `json:"whitelist_open_at" validate:"required"`
	WhitelistCloseAt  time.Time `json:"whitelist_close_at" validate:"required"`
	StartAt           time.Time `json:"start_at" validate:"required"`
	EndAt             time.Time `json:"end_at" validate:"required"`
	FloorPrice        int64     `json:"floor_price" validate:"required,gt=0"`
	MinBidIncrement   int64     `json:"min_bid_increment" validate:"required,gt=0"`
	BuyNowPrice       int64     `json:"buy_now_price" validate:"omitempty,gt=0"`
	WhitelistCapacity int       `json:"whitelist_capacity" validate:"required,gt=0"`
	WhitelistFee      int64     `json:"whitelist_fee" validate:"gte=0"`
}

type depositRequest struct {
	BidderID string `json:"bidder_id" validate:"required"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
}

// CreateAuction registers a new auction in DRAFT
// @Summary Create auction
// @Tags auctions
// @Accept json
// @Produce json
// @Success 201 {object} models.Auction
// @Failure 400 {object} services.ErrorResponse
// @Router /auctions [post]
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		services.SendErrorResponse(w, "validation failed", http.StatusBadRequest, err)
		return
	}
	if !req.WhitelistOpenAt.Before(req.WhitelistCloseAt) ||
		!req.WhitelistCloseAt.Before(req.StartAt) ||
		!req.StartAt.Before(req.EndAt) {
		services.SendErrorResponse(w, "schedule must be ordered: whitelist open < close < start < end", http.StatusBadRequest, nil)
		return
	}
	if req.BuyNowPrice > 0 && req.BuyNowPrice < req.FloorPrice {
		services.SendErrorResponse(w, "buy-now price cannot undercut the floor", http.StatusBadRequest, nil)
		return
	}

	now := time.Now().UTC()
	auction := &models.Auction{
		ID:                uuid.New().String(),
		Title:             req.Title,
		ItemRef:           req.ItemRef,
		Status:            models.AuctionDraft,
		WhitelistOpenAt:   req.WhitelistOpenAt,
		WhitelistCloseAt:  req.WhitelistCloseAt,
		StartAt:           req.StartAt,
		EndAt:             req.EndAt,
		FloorPrice:        req.FloorPrice,
		MinBidIncrement:   req.MinBidIncrement,
		BuyNowPrice:       req.BuyNowPrice,
		WhitelistCapacity: req.WhitelistCapacity,
		WhitelistFee:      req.WhitelistFee,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.store.CreateAuction(r.Context(), auction); err != nil {
		log.Printf("[AUCTION] create failed: %v", err)
		services.SendErrorResponse(w, "failed to create auction", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusCreated, auction)
}

// ListAuctions returns all auctions currently accepting bids
// @Summary List active auctions
// @Tags auctions
// @Produce json
// @Success 200 {array} models.Auction
// @Router /auctions [get]
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.store.ListActiveAuctions(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "failed to list auctions", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

// GetAuction returns one auction, served through the status cache
// @Summary Get auction
// @Tags auctions
// @Produce json
// @Success 200 {object} models.Auction
// @Failure 404 {object} services.ErrorResponse
// @Router /auctions/{auctionId} [get]
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auction, err := h.cache.GetAuction(r.Context(), chi.URLParam(r, "auctionId"))
	if err != nil {
		h.auctionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

// ListBids returns the bid history of an auction
// @Summary List auction bids
// @Tags auctions
// @Produce json
// @Success 200 {array} models.Bid
// @Failure 404 {object} services.ErrorResponse
// @Router /auctions/{auctionId}/bids [get]
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionId")
	if _, err := h.store.GetAuction(r.Context(), auctionID); err != nil {
		h.auctionError(w, err)
		return
	}
	bids, err := h.store.ListBids(r.Context(), auctionID)
	if err != nil {
		services.SendErrorResponse(w, "failed to list bids", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

// JoinWhitelist admits the authenticated bidder, charging the entry fee
// @Summary Join auction whitelist
// @Tags auctions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.WhitelistEntry
// @Failure 402 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /auctions/{auctionId}/whitelist [post]
func (h *AuctionHandler) JoinWhitelist(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := middleware.BidderIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "authentication required", http.StatusUnauthorized, nil)
		return
	}
	auctionID := chi.URLParam(r, "auctionId")

	auction, err := h.store.GetAuction(r.Context(), auctionID)
	if err != nil {
		h.auctionError(w, err)
		return
	}
	if auction.Status != models.AuctionWhitelistOpen {
		h.auctionError(w, bidderrors.ErrWhitelistClosed)
		return
	}

	// Charge the fee before admission. The fee is held and settled in one
	// motion so the ledger keeps a full trail of the payment.
	if auction.WhitelistFee > 0 {
		if err := h.ledger.Hold(r.Context(), bidderID, auctionID, auction.WhitelistFee); err != nil {
			h.auctionError(w, err)
			return
		}
		if err := h.ledger.Settle(r.Context(), bidderID, auctionID, auction.WhitelistFee); err != nil {
			log.Printf("[AUCTION] whitelist fee settle failed for bidder %s: %v", bidderID, err)
			services.SendErrorResponse(w, "failed to charge whitelist fee", http.StatusInternalServerError, nil)
			return
		}
	}

	entry, err := h.store.JoinWhitelist(r.Context(), auctionID, bidderID, auction.WhitelistFee)
	if err != nil {
		// The fee was already taken; refund it before reporting failure.
		if auction.WhitelistFee > 0 {
			if refundErr := h.ledger.Deposit(r.Context(), bidderID, auction.WhitelistFee); refundErr != nil {
				log.Printf("[AUCTION] whitelist fee refund failed for bidder %s: %v", bidderID, refundErr)
			}
		}
		h.auctionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// BalanceEnquiry returns the caller's ledger account
// @Summary Balance enquiry
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.LedgerAccount
// @Router /accounts/balance-enquiry [get]
func (h *AuctionHandler) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := middleware.BidderIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "authentication required", http.StatusUnauthorized, nil)
		return
	}
	account, err := h.ledger.Account(r.Context(), bidderID)
	if err != nil {
		if errors.Is(err, bidderrors.ErrAccountNotFound) {
			// A bidder who has never transacted has an empty account.
			writeJSON(w, http.StatusOK, &models.LedgerAccount{BidderID: bidderID})
			return
		}
		services.SendErrorResponse(w, "failed to load account", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Deposit credits HASH to a bidder's account
// @Summary Deposit funds
// @Tags accounts
// @Accept json
// @Produce json
// @Success 200 {object} statusEnvelope
// @Failure 400 {object} services.ErrorResponse
// @Router /accounts/deposit [post]
func (h *AuctionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		services.SendErrorResponse(w, "validation failed", http.StatusBadRequest, err)
		return
	}
	if err := h.ledger.Deposit(r.Context(), req.BidderID, req.Amount); err != nil {
		services.SendErrorResponse(w, "deposit failed", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, statusEnvelope{Status: "ok", Message: "deposit credited"})
}

func (h *AuctionHandler) auctionError(w http.ResponseWriter, err error) {
	code := bidderrors.Code(err)
	switch {
	case errors.Is(err, bidderrors.ErrAuctionNotFound):
		services.SendReasonResponse(w, err.Error(), code, http.StatusNotFound)
	case errors.Is(err, bidderrors.ErrInsufficientBalance):
		services.SendReasonResponse(w, err.Error(), code, http.StatusPaymentRequired)
	case errors.Is(err, bidderrors.ErrAlreadyJoined),
		errors.Is(err, bidderrors.ErrWhitelistFull),
		errors.Is(err, bidderrors.ErrWhitelistClosed):
		services.SendReasonResponse(w, err.Error(), code, http.StatusConflict)
	case bidderrors.IsValidation(err):
		services.SendReasonResponse(w, err.Error(), code, http.StatusBadRequest)
	default:
		services.SendErrorResponse(w, "internal error", http.StatusInternalServerError, nil)
	}
}
