package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/service"
)

// CatalogService defines the item reads the handler needs.
type CatalogService interface {
	Get(ctx context.Context, itemID string) (domain.Item, error)
	ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Item, error)
	ListByStatus(ctx context.Context, status domain.ItemStatus, opts domain.ListOpts) ([]domain.Item, error)
}

// QuoteService prices an item under the active phase.
type QuoteService interface {
	Quote(ctx context.Context, itemID string) (domain.Cents, error)
}

// SaleService commits primary drop sales.
type SaleService interface {
	Purchase(ctx context.Context, itemID, buyerRef string) (service.SaleResult, error)
}

// ItemHandler serves catalog reads, price quotes and primary purchases.
type ItemHandler struct {
	catalog CatalogService
	quotes  QuoteService
	sales   SaleService
	logger  *slog.Logger
}

// NewItemHandler creates an ItemHandler.
func NewItemHandler(catalog CatalogService, quotes QuoteService, sales SaleService, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{catalog: catalog, quotes: quotes, sales: sales, logger: logger}
}

// itemView is the public JSON shape of an item.
type itemView struct {
	ID            string        `json:"id"`
	TokenIndex    int           `json:"token_index"`
	Score         int           `json:"score"`
	Status        string        `json:"status"`
	OwnerRef      *string       `json:"owner_ref,omitempty"`
	PriceSnapshot *domain.Cents `json:"price_snapshot_cents,omitempty"`
}

func toItemView(it domain.Item) itemView {
	return itemView{
		ID:            it.ID,
		TokenIndex:    it.TokenIndex,
		Score:         it.Score,
		Status:        string(it.Status),
		OwnerRef:      it.OwnerRef,
		PriceSnapshot: it.PriceSnapshot,
	}
}

// Get returns a single item.
// GET /api/items/{id}
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	item, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemView(item))
}

// List returns items filtered by owner or status.
// GET /api/items?owner=...  or  GET /api/items?status=available
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		items []domain.Item
		err   error
	)
	switch {
	case q.Get("owner") != "":
		items, err = h.catalog.ListByOwner(r.Context(), q.Get("owner"), opts)
	case q.Get("status") != "":
		items, err = h.catalog.ListByStatus(r.Context(), domain.ItemStatus(q.Get("status")), opts)
	default:
		items, err = h.catalog.ListByStatus(r.Context(), domain.ItemStatusAvailable, opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	views := make([]itemView, 0, len(items))
	for _, it := range items {
		views = append(views, toItemView(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  views,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// Quote returns the item's current price under the active phase.
// GET /api/items/{id}/quote
func (h *ItemHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	price, err := h.quotes.Quote(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":     id,
		"price_cents": int64(price),
		"price":       price.String(),
	})
}

type purchaseRequest struct {
	BuyerRef string `json:"buyer_ref"`
}

// Purchase sells the item at the current phase price.
// POST /api/items/{id}/purchase
func (h *ItemHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil || req.BuyerRef == "" {
		writeError(w, http.StatusBadRequest, "buyer_ref is required")
		return
	}

	result, err := h.sales.Purchase(r.Context(), id, req.BuyerRef)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
