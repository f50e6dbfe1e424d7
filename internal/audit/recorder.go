package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/identity-sync/identity-sync/internal/identity"
	"github.com/identity-sync/identity-sync/internal/safego"
	"github.com/identity-sync/identity-sync/internal/telemetry"
)

// Column limits from the audit_records schema.
const (
	maxAddressLen = 64
	maxAgentLen   = 512
)

// Store is the durable, append-only backing table.
type Store interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	ListByIdentity(ctx context.Context, identityID int64) ([]*models.AuditRecord, error)
	List(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditRecord, int64, error)
}

// Recorder is the identity.AuditSink backed by the database. A record counts as
// written once the store accepts it; shipping is best effort and asynchronous.
type Recorder struct {
	store       Store
	shipper     Shipper
	shipTimeout time.Duration
	now         func() time.Time
}

// NewRecorder creates a Recorder. shipper may be nil.
func NewRecorder(store Store, shipper Shipper) *Recorder {
	return &Recorder{store: store, shipper: shipper, shipTimeout: 10 * time.Second, now: time.Now}
}

// Append persists the entry and hands a copy to the shipper in the background.
func (r *Recorder) Append(ctx context.Context, e identity.AuditEntry) error {
	rec := &models.AuditRecord{
		ID:          uuid.New().String(),
		IdentityID:  e.IdentityID,
		EventType:   e.Event,
		Description: e.Description,
		IPAddress:   truncated(e.Origin.Address, maxAddressLen),
		UserAgent:   truncated(e.Origin.Agent, maxAgentLen),
		CreatedAt:   r.now().UTC(),
	}

	if err := r.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	telemetry.AuditRecordsTotal.WithLabelValues(string(rec.EventType)).Inc()

	if r.shipper != nil {
		safego.Go("audit-ship", func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.shipTimeout)
			defer cancel()
			if err := r.shipper.Ship(ctx, rec); err != nil {
				slog.Debug("audit record not shipped", "audit_id", rec.ID, "error", err)
			}
		})
	}
	return nil
}

// ListByIdentity returns the identity's audit history, newest first.
func (r *Recorder) ListByIdentity(ctx context.Context, identityID int64) ([]*models.AuditRecord, error) {
	return r.store.ListByIdentity(ctx, identityID)
}

// List returns one page of records matching filter.
func (r *Recorder) List(ctx context.Context, filter models.AuditFilter, page, size int) (*models.AuditPage, error) {
	items, total, err := r.store.List(ctx, filter, size, page*size)
	if err != nil {
		return nil, err
	}
	return &models.AuditPage{Items: items, Total: total, Page: page, Size: size}, nil
}

func truncated(s string, max int) *string {
	if s == "" {
		return nil
	}
	if len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return &s
}
