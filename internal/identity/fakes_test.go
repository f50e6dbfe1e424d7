package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/identity-sync/identity-sync/internal/db/models"
)

// memStore is an IdentityStore that enforces subject uniqueness the way the
// database does. beforeCreate, when set, runs before each insert so tests can
// interleave a competing writer.
type memStore struct {
	mu           sync.Mutex
	nextID       int64
	rows         map[int64]*models.Identity
	beforeCreate func(subject string)
	failUpdate   error

	creates, updates, touches int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]*models.Identity)}
}

func clone(i *models.Identity) *models.Identity {
	c := *i
	c.Roles = append([]models.Role(nil), i.Roles...)
	return &c
}

func (m *memStore) FindBySubject(_ context.Context, subject string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Subject == subject {
			return clone(r), nil
		}
	}
	return nil, nil
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Identity
	for _, r := range m.rows {
		if r.Email == email && (best == nil || r.ID < best.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

func (m *memStore) FindByID(_ context.Context, id int64) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		return clone(r), nil
	}
	return nil, nil
}

func (m *memStore) Search(_ context.Context, query string, page, size int) (*models.IdentityPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var all []*models.Identity
	for _, r := range m.rows {
		if q == "" || strings.Contains(strings.ToLower(r.Username), q) || strings.Contains(strings.ToLower(r.Email), q) {
			all = append(all, clone(r))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	start := page * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return &models.IdentityPage{Items: all[start:end], Total: int64(len(all)), Page: page, Size: size}, nil
}

func (m *memStore) Create(_ context.Context, identity *models.Identity) error {
	if m.beforeCreate != nil {
		m.beforeCreate(identity.Subject)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Subject == identity.Subject {
			return Conflict("Create", errors.New("duplicate key value violates unique constraint"))
		}
	}
	m.nextID++
	identity.ID = m.nextID
	m.rows[identity.ID] = clone(identity)
	m.creates++
	return nil
}

func (m *memStore) Update(_ context.Context, identity *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return m.failUpdate
	}
	r, ok := m.rows[identity.ID]
	if !ok {
		return errors.New("no such identity")
	}
	r.Email = identity.Email
	r.Username = identity.Username
	r.DisplayName = identity.DisplayName
	r.UpdatedAt = identity.UpdatedAt
	r.LastLogin = identity.LastLogin
	m.updates++
	return nil
}

func (m *memStore) TouchLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return errors.New("no such identity")
	}
	r.LastLogin = at
	r.UpdatedAt = at
	m.touches++
	return nil
}

func (m *memStore) ReplaceRoles(_ context.Context, id int64, roles []models.Role, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return errors.New("no such identity")
	}
	r.Roles = append([]models.Role(nil), roles...)
	r.UpdatedAt = at
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memRoles is a fixed RoleCatalog.
type memRoles struct {
	byName map[string]models.Role
}

func newMemRoles(names ...string) *memRoles {
	r := &memRoles{byName: make(map[string]models.Role)}
	for i, n := range names {
		r.byName[n] = models.Role{ID: int64(i + 1), Name: n}
	}
	return r
}

func (r *memRoles) FindByName(_ context.Context, name string) (*models.Role, error) {
	role, ok := r.byName[name]
	if !ok {
		return nil, nil
	}
	return &role, nil
}

func (r *memRoles) List(_ context.Context) ([]*models.Role, error) {
	out := make([]*models.Role, 0, len(r.byName))
	for _, role := range r.byName {
		role := role
		out = append(out, &role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// memAudit is an in-memory AuditSink.
type memAudit struct {
	mu      sync.Mutex
	records []*models.AuditRecord
	fail    error
	clock   func() time.Time
}

func (a *memAudit) Append(_ context.Context, e AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	rec := &models.AuditRecord{
		ID:          fmt.Sprintf("rec-%d", len(a.records)+1),
		IdentityID:  e.IdentityID,
		EventType:   e.Event,
		Description: e.Description,
		CreatedAt:   time.Now(),
	}
	if a.clock != nil {
		rec.CreatedAt = a.clock()
	}
	if e.Origin.Address != "" {
		addr := e.Origin.Address
		rec.IPAddress = &addr
	}
	if e.Origin.Agent != "" {
		agent := e.Origin.Agent
		rec.UserAgent = &agent
	}
	a.records = append(a.records, rec)
	return nil
}

func (a *memAudit) ListByIdentity(_ context.Context, id int64) ([]*models.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.AuditRecord
	for i := len(a.records) - 1; i >= 0; i-- {
		if r := a.records[i]; r.IdentityID != nil && *r.IdentityID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *memAudit) List(_ context.Context, f models.AuditFilter, page, size int) (*models.AuditPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.AuditRecord
	for i := len(a.records) - 1; i >= 0; i-- {
		r := a.records[i]
		if f.EventType != "" && r.EventType != f.EventType {
			continue
		}
		if f.IdentityID != nil && (r.IdentityID == nil || *r.IdentityID != *f.IdentityID) {
			continue
		}
		out = append(out, r)
	}
	return &models.AuditPage{Items: out, Total: int64(len(out)), Page: page, Size: size}, nil
}

func (a *memAudit) byEvent(e models.AuditEvent) []*models.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.AuditRecord
	for _, r := range a.records {
		if r.EventType == e {
			out = append(out, r)
		}
	}
	return out
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func strPtr(s string) *string { return &s }
