package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-booking/internal/models"
)

// MemoryStore is the in-memory twin of the postgres store, used by tests and
// DSN-less local runs. A single mutex gives it the same per-record
// serialization guarantee the database provides.
type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
	orderNos map[string]string // order number -> booking id
	balances map[string]float64
	ledger   []models.WalletTransaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*models.Booking),
		orderNos: make(map[string]string),
		balances: make(map[string]float64),
	}
}

// SeedDriver registers a driver wallet with an opening balance.
func (m *MemoryStore) SeedDriver(driverID string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[driverID] = balance
}

func (m *MemoryStore) Balance(driverID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[driverID]
}

func (m *MemoryStore) Ledger() []models.WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WalletTransaction, len(m.ledger))
	copy(out, m.ledger)
	return out
}

func (m *MemoryStore) Insert(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orderNos[b.OrderNumber]; ok {
		return ErrDuplicateOrderNumber
	}
	cp := *b
	m.bookings[b.ID] = &cp
	m.orderNos[b.OrderNumber] = b.ID
	return nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) FindMany(ctx context.Context, f Filter, s Sort, p Page) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if matchFilter(b, f) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if s.Desc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if p.Offset > 0 {
		if p.Offset >= len(out) {
			return nil, nil
		}
		out = out[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(out) {
		out = out[:p.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ConditionalUpdate(ctx context.Context, id string, expect Expect, patch Patch) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditionalUpdateLocked(id, expect, patch)
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.orderNos, b.OrderNumber)
	delete(m.bookings, id)
	kept := m.ledger[:0]
	for _, e := range m.ledger {
		if e.BookingID != id {
			kept = append(kept, e)
		}
	}
	m.ledger = kept
	return nil
}

func (m *MemoryStore) CountActiveForDriver(ctx context.Context, driverID, excludeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bookings {
		if b.DriverID != driverID || b.ID == excludeID {
			continue
		}
		for _, s := range models.ActiveStatuses {
			if b.Status == s {
				n++
				break
			}
		}
	}
	return n, nil
}

// InTx holds the store lock for the whole callback, which makes the
// transaction atomic and isolated. On error every staged change is discarded.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := &memTx{store: m}
	if err := fn(staged); err != nil {
		return err
	}
	staged.commitLocked()
	return nil
}

type memTx struct {
	store    *MemoryStore
	bookings []models.Booking
	balances map[string]float64
	entries  []models.WalletTransaction
}

func (t *memTx) ConditionalUpdate(ctx context.Context, id string, expect Expect, patch Patch) (*models.Booking, error) {
	// Stage against a copy; commitLocked writes it back.
	b, ok := t.store.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	if !matchExpect(&cp, expect) {
		return nil, ErrNotMatched
	}
	applyPatch(&cp, patch)
	t.bookings = append(t.bookings, cp)
	out := cp
	return &out, nil
}

func (t *memTx) IncrementWallet(ctx context.Context, driverID string, amount float64) (float64, error) {
	if t.balances == nil {
		t.balances = make(map[string]float64)
	}
	base, staged := t.store.balances[driverID], false
	if v, ok := t.balances[driverID]; ok {
		base, staged = v, true
	}
	if !staged {
		if _, ok := t.store.balances[driverID]; !ok {
			return 0, ErrNotFound
		}
	}
	t.balances[driverID] = base + amount
	return base + amount, nil
}

func (t *memTx) AppendTransaction(ctx context.Context, e *models.WalletTransaction) error {
	t.entries = append(t.entries, *e)
	return nil
}

func (t *memTx) commitLocked() {
	for i := range t.bookings {
		cp := t.bookings[i]
		t.store.bookings[cp.ID] = &cp
	}
	for id, bal := range t.balances {
		t.store.balances[id] = bal
	}
	t.store.ledger = append(t.store.ledger, t.entries...)
}

func (m *MemoryStore) conditionalUpdateLocked(id string, expect Expect, patch Patch) (*models.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !matchExpect(b, expect) {
		return nil, ErrNotMatched
	}
	applyPatch(b, patch)
	cp := *b
	return &cp, nil
}

func matchExpect(b *models.Booking, e Expect) bool {
	if e.Status != nil && b.Status != *e.Status {
		return false
	}
	if e.DriverID != nil && b.DriverID != *e.DriverID {
		return false
	}
	if e.DriverUnset && b.DriverID != "" {
		return false
	}
	if e.NotExpired && b.IsExpired {
		return false
	}
	if e.NotPaid && b.IsPaid {
		return false
	}
	if e.OpenWindowAt != nil && b.ExpiresAt != nil && !b.ExpiresAt.After(*e.OpenWindowAt) {
		return false
	}
	return true
}

func applyPatch(b *models.Booking, p Patch) {
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.DriverID != nil {
		b.DriverID = *p.DriverID
	}
	if p.ClearDriver {
		b.DriverID = ""
	}
	if p.IsExpired != nil {
		b.IsExpired = *p.IsExpired
	}
	if p.ExpiredAt != nil {
		v := *p.ExpiredAt
		b.ExpiredAt = &v
	}
	if p.ClearExpiry {
		b.IsExpired = false
		b.ExpiresAt = nil
		b.ExpiredAt = nil
	}
	if p.IsRejected != nil {
		b.IsRejected = *p.IsRejected
	}
	if p.RejectionReason != nil {
		b.RejectionReason = *p.RejectionReason
	}
	if p.ClearRejection {
		b.IsRejected = false
		b.RejectionReason = ""
	}
	if p.IsPaid != nil {
		b.IsPaid = *p.IsPaid
	}
	if p.StartedAt != nil {
		v := *p.StartedAt
		b.StartedAt = &v
	}
	if p.PickedUpAt != nil {
		v := *p.PickedUpAt
		b.PickedUpAt = &v
	}
	if p.DroppedOffAt != nil {
		v := *p.DroppedOffAt
		b.DroppedOffAt = &v
	}
	if p.CompletedAt != nil {
		v := *p.CompletedAt
		b.CompletedAt = &v
	}
}

func matchFilter(b *models.Booking, f Filter) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, b.Status) {
		return false
	}
	if f.AssignmentType != nil && b.AssignmentType != *f.AssignmentType {
		return false
	}
	if f.DriverID != nil && b.DriverID != *f.DriverID {
		return false
	}
	if f.Unassigned && b.DriverID != "" {
		return false
	}
	if f.NotExpired && b.IsExpired {
		return false
	}
	if f.OpenWindowAt != nil && b.ExpiresAt != nil && !b.ExpiresAt.After(*f.OpenWindowAt) {
		return false
	}
	if f.HasExpiry && b.ExpiresAt == nil {
		return false
	}
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if b.Category == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsStatus(list []models.BookingStatus, s models.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
