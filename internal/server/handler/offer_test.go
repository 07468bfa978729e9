package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintforge/dropmarket/internal/domain"
)

// stubOfferService lets each test script exactly one behavior per method.
type stubOfferService struct {
	propose func(listingID, buyerRef string, amount domain.Cents) (domain.Offer, error)
	get     func(offerID string) (domain.Offer, error)
	sweep   func() (int, error)
}

func (s *stubOfferService) Propose(_ context.Context, listingID, buyerRef string, amount domain.Cents) (domain.Offer, error) {
	return s.propose(listingID, buyerRef, amount)
}

func (s *stubOfferService) Counter(_ context.Context, offerID, sellerRef string, amount domain.Cents) (domain.Offer, error) {
	return domain.Offer{}, domain.ErrNotFound
}

func (s *stubOfferService) Accept(_ context.Context, offerID, sellerRef string) (domain.Offer, error) {
	return domain.Offer{}, domain.ErrNotFound
}

func (s *stubOfferService) Reject(_ context.Context, offerID, sellerRef string) (domain.Offer, error) {
	return domain.Offer{}, domain.ErrNotFound
}

func (s *stubOfferService) Cancel(_ context.Context, offerID, buyerRef string) (domain.Offer, error) {
	return domain.Offer{}, domain.ErrNotFound
}

func (s *stubOfferService) Get(_ context.Context, offerID string) (domain.Offer, error) {
	return s.get(offerID)
}

func (s *stubOfferService) ListByListing(_ context.Context, listingID string, _ domain.ListOpts) ([]domain.Offer, error) {
	return nil, nil
}

func (s *stubOfferService) ListByBuyer(_ context.Context, buyerRef string, _ domain.ListOpts) ([]domain.Offer, error) {
	return nil, nil
}

func (s *stubOfferService) ExpireSweep(context.Context) (int, error) {
	return s.sweep()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProposeCreatesOffer(t *testing.T) {
	expires := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	svc := &stubOfferService{
		propose: func(listingID, buyerRef string, amount domain.Cents) (domain.Offer, error) {
			require.Equal(t, "lst-1", listingID)
			require.Equal(t, "buyer-3", buyerRef)
			require.Equal(t, domain.Cents(5000), amount)
			return domain.Offer{
				ID:          "off-1",
				ListingID:   listingID,
				BuyerRef:    buyerRef,
				AmountCents: amount,
				Status:      domain.OfferStatusPending,
				ExpiresAt:   expires,
			}, nil
		},
	}
	h := NewOfferHandler(svc, testLogger())

	body := `{"buyer_ref":"buyer-3","amount_cents":5000}`
	req := httptest.NewRequest(http.MethodPost, "/api/listings/lst-1/offers", strings.NewReader(body))
	req.SetPathValue("id", "lst-1")
	rec := httptest.NewRecorder()

	h.Propose(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got offerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "off-1", got.ID)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "2026-03-03T12:00:00Z", got.ExpiresAt)
}

func TestProposeRejectsBadBody(t *testing.T) {
	h := NewOfferHandler(&stubOfferService{}, testLogger())

	cases := map[string]string{
		"missing buyer_ref": `{"amount_cents":5000}`,
		"unknown field":     `{"buyer_ref":"b","amount_cents":1,"surprise":true}`,
		"not json":          `amount=5000`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/listings/lst-1/offers", strings.NewReader(body))
			req.SetPathValue("id", "lst-1")
			rec := httptest.NewRecorder()

			h.Propose(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"invalid transition", domain.ErrInvalidTransition, http.StatusConflict},
		{"lost race", domain.ErrConflict, http.StatusConflict},
		{"unauthorized", domain.ErrUnauthorized, http.StatusForbidden},
		{"expired", domain.ErrExpired, http.StatusGone},
		{"self dealing", domain.ErrSelfDealing, http.StatusBadRequest},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOfferService{
				get: func(string) (domain.Offer, error) { return domain.Offer{}, tc.err },
			}
			h := NewOfferHandler(svc, testLogger())

			req := httptest.NewRequest(http.MethodGet, "/api/offers/off-1", nil)
			req.SetPathValue("id", "off-1")
			rec := httptest.NewRecorder()

			h.Get(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			if tc.err == domain.ErrRateLimited {
				assert.Equal(t, "60", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestSweepReportsExpiredCount(t *testing.T) {
	svc := &stubOfferService{
		sweep: func() (int, error) { return 7, nil },
	}
	h := NewOfferHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/offers/sweep", nil)
	rec := httptest.NewRecorder()

	h.Sweep(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 7, body["expired"])
}
