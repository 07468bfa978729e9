package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mintforge/dropmarket/internal/domain"
)

// ListingService defines what the listing handler needs.
type ListingService interface {
	Create(ctx context.Context, itemID, sellerRef string, price domain.Cents) (domain.Listing, error)
	Cancel(ctx context.Context, listingID, sellerRef string) (domain.Listing, error)
	Get(ctx context.Context, listingID string) (domain.Listing, error)
	ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
}

// ListingHandler serves resale listing endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, logger: logger}
}

// listingView is the public JSON shape of a listing.
type listingView struct {
	ID         string       `json:"id"`
	ItemID     string       `json:"item_id"`
	SellerRef  string       `json:"seller_ref"`
	PriceCents domain.Cents `json:"price_cents"`
	Status     string       `json:"status"`
}

func toListingView(l domain.Listing) listingView {
	return listingView{
		ID:         l.ID,
		ItemID:     l.ItemID,
		SellerRef:  l.SellerRef,
		PriceCents: l.PriceCents,
		Status:     string(l.Status),
	}
}

type createListingRequest struct {
	ItemID     string `json:"item_id"`
	SellerRef  string `json:"seller_ref"`
	PriceCents int64  `json:"price_cents"`
}

// Create opens a resale listing.
// POST /api/listings
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ItemID == "" || req.SellerRef == "" {
		writeError(w, http.StatusBadRequest, "item_id and seller_ref are required")
		return
	}

	listing, err := h.listings.Create(r.Context(), req.ItemID, req.SellerRef, domain.Cents(req.PriceCents))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingView(listing))
}

// Get returns a single listing.
// GET /api/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing listing id")
		return
	}

	listing, err := h.listings.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(listing))
}

// List returns open listings with pagination.
// GET /api/listings?limit=50&offset=0
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	listings, err := h.listings.ListOpen(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	views := make([]listingView, 0, len(listings))
	for _, l := range listings {
		views = append(views, toListingView(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": views,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}

type cancelListingRequest struct {
	SellerRef string `json:"seller_ref"`
}

// Cancel closes an open listing on the seller's behalf.
// DELETE /api/listings/{id}
func (h *ListingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing listing id")
		return
	}

	var req cancelListingRequest
	if err := decodeJSON(r, &req); err != nil || req.SellerRef == "" {
		writeError(w, http.StatusBadRequest, "seller_ref is required")
		return
	}

	listing, err := h.listings.Cancel(r.Context(), id, req.SellerRef)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(listing))
}
