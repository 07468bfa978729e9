package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mintforge/dropmarket/internal/domain"
)

// OfferArchiveStore provides read access to resolved offers for archival.
// The Postgres offer store satisfies this through ListResolvedBefore.
type OfferArchiveStore interface {
	ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Offer, error)
}

// PhaseArchiveStore provides read access to the release schedule for
// archival of completed phases.
type PhaseArchiveStore interface {
	List(ctx context.Context) ([]domain.Phase, error)
}

// archiveBatchSize caps how many offers one archive run uploads.
const archiveBatchSize = 10000

// Archiver snapshots cold marketplace records (resolved offers, completed
// phases) as JSONL files in object storage.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer domain.BlobWriter
	offers OfferArchiveStore
	phases PhaseArchiveStore
	audit  domain.AuditStore
	prefix string
}

// NewArchiver creates an Archiver. prefix is the key prefix inside the
// bucket, e.g. "archive".
func NewArchiver(
	writer domain.BlobWriter,
	offers OfferArchiveStore,
	phases PhaseArchiveStore,
	audit domain.AuditStore,
	prefix string,
) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{
		writer: writer,
		offers: offers,
		phases: phases,
		audit:  audit,
		prefix: prefix,
	}
}

// offerRecord is the archived JSON shape of a resolved offer.
type offerRecord struct {
	ID           string        `json:"id"`
	ListingID    string        `json:"listing_id"`
	BuyerRef     string        `json:"buyer_ref"`
	AmountCents  domain.Cents  `json:"amount_cents"`
	CounterCents *domain.Cents `json:"counter_cents,omitempty"`
	Status       string        `json:"status"`
	ExpiresAt    time.Time     `json:"expires_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ArchiveResolvedOffers uploads every offer resolved before the cutoff as a
// JSONL file at <prefix>/offers/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveResolvedOffers(ctx context.Context, before time.Time) (int64, error) {
	offers, err := a.offers.ListResolvedBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive offers query: %w", err)
	}
	if len(offers) == 0 {
		return 0, nil
	}

	records := make([]offerRecord, 0, len(offers))
	for _, o := range offers {
		records = append(records, offerRecord{
			ID:           o.ID,
			ListingID:    o.ListingID,
			BuyerRef:     o.BuyerRef,
			AmountCents:  o.AmountCents,
			CounterCents: o.CounterCents,
			Status:       string(o.Status),
			ExpiresAt:    o.ExpiresAt,
			ResolvedAt:   o.ResolvedAt,
			CreatedAt:    o.CreatedAt,
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive offers marshal: %w", err)
	}

	path := a.archivePath("offers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive offers upload: %w", err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive.offers", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive offers audit log: %w", err)
	}

	return count, nil
}

// phaseRecord is the archived JSON shape of a completed phase.
type phaseRecord struct {
	Index     int          `json:"index"`
	RateCents domain.Cents `json:"rate_cents"`
	Capacity  int          `json:"capacity"`
	Sold      int          `json:"sold"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
}

// ArchiveCompletedPhases uploads every deactivated phase as a JSONL file at
// <prefix>/phases/YYYY-MM.jsonl and returns the record count. Phases still
// active or never activated are skipped.
func (a *Archiver) ArchiveCompletedPhases(ctx context.Context, before time.Time) (int64, error) {
	phases, err := a.phases.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive phases query: %w", err)
	}

	records := make([]phaseRecord, 0, len(phases))
	for _, p := range phases {
		if p.Active || p.StartTime.IsZero() {
			continue
		}
		records = append(records, phaseRecord{
			Index:     p.Index,
			RateCents: p.RateCents,
			Capacity:  p.Capacity,
			Sold:      p.Sold,
			StartTime: p.StartTime,
			EndTime:   p.EndTime(),
		})
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive phases marshal: %w", err)
	}

	path := a.archivePath("phases", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive phases upload: %w", err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive.phases", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive phases audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/offers/2026-03.jsonl.
func (a *Archiver) archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("%s/%s/%s.jsonl", a.prefix, kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
