package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mintforge/dropmarket/internal/domain"
)

// OfferService defines what the offer handler needs.
type OfferService interface {
	Propose(ctx context.Context, listingID, buyerRef string, amount domain.Cents) (domain.Offer, error)
	Counter(ctx context.Context, offerID, sellerRef string, amount domain.Cents) (domain.Offer, error)
	Accept(ctx context.Context, offerID, sellerRef string) (domain.Offer, error)
	Reject(ctx context.Context, offerID, sellerRef string) (domain.Offer, error)
	Cancel(ctx context.Context, offerID, buyerRef string) (domain.Offer, error)
	Get(ctx context.Context, offerID string) (domain.Offer, error)
	ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.Offer, error)
	ListByBuyer(ctx context.Context, buyerRef string, opts domain.ListOpts) ([]domain.Offer, error)
	ExpireSweep(ctx context.Context) (int, error)
}

// OfferHandler serves offer negotiation endpoints.
type OfferHandler struct {
	offers OfferService
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler.
func NewOfferHandler(offers OfferService, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{offers: offers, logger: logger}
}

// offerView is the public JSON shape of an offer.
type offerView struct {
	ID           string        `json:"id"`
	ListingID    string        `json:"listing_id"`
	BuyerRef     string        `json:"buyer_ref"`
	AmountCents  domain.Cents  `json:"amount_cents"`
	CounterCents *domain.Cents `json:"counter_cents,omitempty"`
	Status       string        `json:"status"`
	ExpiresAt    string        `json:"expires_at"`
}

func toOfferView(o domain.Offer) offerView {
	return offerView{
		ID:           o.ID,
		ListingID:    o.ListingID,
		BuyerRef:     o.BuyerRef,
		AmountCents:  o.AmountCents,
		CounterCents: o.CounterCents,
		Status:       string(o.Status),
		ExpiresAt:    o.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

type proposeRequest struct {
	BuyerRef    string `json:"buyer_ref"`
	AmountCents int64  `json:"amount_cents"`
}

// Propose places a new offer on a listing.
// POST /api/listings/{id}/offers
func (h *OfferHandler) Propose(w http.ResponseWriter, r *http.Request) {
	listingID := pathParam(r, "id")
	if listingID == "" {
		writeError(w, http.StatusBadRequest, "missing listing id")
		return
	}

	var req proposeRequest
	if err := decodeJSON(r, &req); err != nil || req.BuyerRef == "" {
		writeError(w, http.StatusBadRequest, "buyer_ref is required")
		return
	}

	offer, err := h.offers.Propose(r.Context(), listingID, req.BuyerRef, domain.Cents(req.AmountCents))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferView(offer))
}

// ListByListing returns the offers placed against a listing.
// GET /api/listings/{id}/offers
func (h *OfferHandler) ListByListing(w http.ResponseWriter, r *http.Request) {
	listingID := pathParam(r, "id")
	if listingID == "" {
		writeError(w, http.StatusBadRequest, "missing listing id")
		return
	}

	offers, err := h.offers.ListByListing(r.Context(), listingID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	views := make([]offerView, 0, len(offers))
	for _, o := range offers {
		views = append(views, toOfferView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": views})
}

// Get returns a single offer.
// GET /api/offers/{id}
func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing offer id")
		return
	}

	offer, err := h.offers.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferView(offer))
}

// ListByBuyer returns the offers a buyer has placed.
// GET /api/offers?buyer=...
func (h *OfferHandler) ListByBuyer(w http.ResponseWriter, r *http.Request) {
	buyer := r.URL.Query().Get("buyer")
	if buyer == "" {
		writeError(w, http.StatusBadRequest, "buyer query parameter is required")
		return
	}

	offers, err := h.offers.ListByBuyer(r.Context(), buyer, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	views := make([]offerView, 0, len(offers))
	for _, o := range offers {
		views = append(views, toOfferView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": views})
}

type counterRequest struct {
	SellerRef   string `json:"seller_ref"`
	AmountCents int64  `json:"amount_cents"`
}

// Counter replies to a live offer with a new amount.
// POST /api/offers/{id}/counter
func (h *OfferHandler) Counter(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing offer id")
		return
	}

	var req counterRequest
	if err := decodeJSON(r, &req); err != nil || req.SellerRef == "" {
		writeError(w, http.StatusBadRequest, "seller_ref is required")
		return
	}

	offer, err := h.offers.Counter(r.Context(), id, req.SellerRef, domain.Cents(req.AmountCents))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferView(offer))
}

type resolveRequest struct {
	SellerRef string `json:"seller_ref"`
}

// Accept settles a live offer.
// POST /api/offers/{id}/accept
func (h *OfferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.offers.Accept)
}

// Reject declines a live offer.
// POST /api/offers/{id}/reject
func (h *OfferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.offers.Reject)
}

func (h *OfferHandler) resolve(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, offerID, sellerRef string) (domain.Offer, error),
) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing offer id")
		return
	}

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil || req.SellerRef == "" {
		writeError(w, http.StatusBadRequest, "seller_ref is required")
		return
	}

	offer, err := op(r.Context(), id, req.SellerRef)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferView(offer))
}

type cancelOfferRequest struct {
	BuyerRef string `json:"buyer_ref"`
}

// Cancel withdraws a live offer on the buyer's behalf.
// DELETE /api/offers/{id}
func (h *OfferHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing offer id")
		return
	}

	var req cancelOfferRequest
	if err := decodeJSON(r, &req); err != nil || req.BuyerRef == "" {
		writeError(w, http.StatusBadRequest, "buyer_ref is required")
		return
	}

	offer, err := h.offers.Cancel(r.Context(), id, req.BuyerRef)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferView(offer))
}

// Sweep expires every live offer past its deadline. The periodic sweeper
// runs the same operation; this route exists for manual recovery.
// POST /api/offers/sweep
func (h *OfferHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	expired, err := h.offers.ExpireSweep(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}
