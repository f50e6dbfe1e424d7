package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() (*Service, *memStore, *memAudit) {
	store := newMemStore()
	audit := &memAudit{}
	svc := NewService(store, newMemRoles("USER", "ADMIN"), audit, NewDefaultRole("USER"), WithClock(stepClock(t0)))
	return svc, store, audit
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 0, DefaultPageSize},
		{-3, 5, 0, 5},
		{2, 500, 2, MaxPageSize},
		{1, 100, 1, 100},
	}
	for _, tt := range tests {
		p, s := NormalizePage(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, p)
		assert.Equal(t, tt.wantSize, s)
	}
}

func TestCurrentIdentity(t *testing.T) {
	svc, store, _ := newTestService()
	seeded := seedIdentity(t, store, "s-1")

	got, err := svc.CurrentIdentity(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)

	_, err = svc.CurrentIdentity(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateProfile(t *testing.T) {
	svc, store, audit := newTestService()
	seeded := seedIdentity(t, store, "s-1")

	got, err := svc.UpdateProfile(context.Background(), seeded.ID, ProfileUpdate{
		Username:    strPtr(" new-name "),
		DisplayName: strPtr("New Name"),
	}, Origin{})
	require.NoError(t, err)
	assert.Equal(t, "new-name", got.Username)
	assert.Equal(t, "New Name", got.DisplayName)
	assert.Equal(t, seeded.Email, got.Email, "email is provider-owned")

	recs := audit.byEvent(models.AuditEventProfileUpdate)
	require.Len(t, recs, 1)
	assert.Equal(t, "Updated username and display name", recs[0].Description)
}

func TestUpdateProfile_Invalid(t *testing.T) {
	svc, store, audit := newTestService()
	seeded := seedIdentity(t, store, "s-1")

	_, err := svc.UpdateProfile(context.Background(), seeded.ID, ProfileUpdate{}, Origin{})
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = svc.UpdateProfile(context.Background(), seeded.ID, ProfileUpdate{Username: strPtr("  ")}, Origin{})
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = svc.UpdateProfile(context.Background(), 999, ProfileUpdate{Username: strPtr("x")}, Origin{})
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Empty(t, audit.records)
}

func TestListIdentities(t *testing.T) {
	svc, store, _ := newTestService()
	for _, s := range []string{"alice", "bob", "alina"} {
		seedIdentity(t, store, s)
	}

	page, err := svc.ListIdentities(context.Background(), "ALI", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, DefaultPageSize, page.Size)

	page, err = svc.ListIdentities(context.Background(), "", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 1)
}

func TestAuditLog(t *testing.T) {
	svc, _, audit := newTestService()
	id := int64(7)
	require.NoError(t, audit.Append(context.Background(), AuditEntry{IdentityID: &id, Event: models.AuditEventLogin}))
	require.NoError(t, audit.Append(context.Background(), AuditEntry{IdentityID: &id, Event: models.AuditEventLogout}))

	page, err := svc.AuditLog(context.Background(), models.AuditFilter{EventType: models.AuditEventLogout}, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, models.AuditEventLogout, page.Items[0].EventType)

	_, err = svc.AuditLog(context.Background(), models.AuditFilter{EventType: "BOGUS"}, 0, 10)
	assert.True(t, errors.Is(err, ErrInvalid))
}
