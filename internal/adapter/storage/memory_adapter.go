package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/rl1809/oil-billing/internal/core/domain"
	"github.com/rl1809/oil-billing/internal/port"
)

type memoryState struct {
	providers map[string]domain.Provider
	barrels   map[string]domain.Barrel
	invoices  map[string]domain.Invoice
	lines     map[string][]domain.InvoiceLine // by invoice id, in position order
}

func newMemoryState() *memoryState {
	return &memoryState{
		providers: make(map[string]domain.Provider),
		barrels:   make(map[string]domain.Barrel),
		invoices:  make(map[string]domain.Invoice),
		lines:     make(map[string][]domain.InvoiceLine),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.providers {
		c.providers[k] = v
	}
	for k, v := range s.barrels {
		c.barrels[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = append([]domain.InvoiceLine(nil), v...)
	}
	return c
}

func (s *memoryState) barrelReferenced(barrelID string) bool {
	for _, lines := range s.lines {
		for _, l := range lines {
			if l.BarrelID == barrelID {
				return true
			}
		}
	}
	return false
}

// MemoryAdapter is an in-process port.Store. Transactions are serialized and
// work on a copy of the state that replaces the original only on commit.
type MemoryAdapter struct {
	mu    *sync.RWMutex // nil when bound to a transaction
	state *memoryState
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{mu: &sync.RWMutex{}, state: newMemoryState()}
}

var _ port.Store = (*MemoryAdapter)(nil)

func (m *MemoryAdapter) Execute(ctx context.Context, fn func(repo port.DatabaseRepository) error) error {
	if m.mu == nil {
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "begin tx")
	}

	tx := &MemoryAdapter{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *MemoryAdapter) read(fn func(s *memoryState) error) error {
	if m.mu != nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	return fn(m.state)
}

func (m *MemoryAdapter) write(fn func(s *memoryState) error) error {
	if m.mu != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn(m.state)
}

func (m *MemoryAdapter) CreateProvider(_ context.Context, p domain.Provider) error {
	return m.write(func(s *memoryState) error {
		if _, ok := s.providers[p.ID]; ok {
			return errors.Wrapf(domain.ErrAlreadyExists, "provider %s", p.ID)
		}
		s.providers[p.ID] = p
		return nil
	})
}

func (m *MemoryAdapter) GetProvider(_ context.Context, id string) (*domain.Provider, error) {
	var p domain.Provider
	err := m.read(func(s *memoryState) error {
		found, ok := s.providers[id]
		if !ok {
			return errors.Wrapf(domain.ErrNotFound, "provider %s", id)
		}
		p = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *MemoryAdapter) ListProviders(_ context.Context, filter domain.ProviderFilter) ([]domain.Provider, error) {
	var out []domain.Provider
	err := m.read(func(s *memoryState) error {
		for _, p := range s.providers {
			if filter.HasBarrelsToBill != nil {
				hasUnbilled := lo.SomeBy(lo.Values(s.barrels), func(b domain.Barrel) bool {
					return b.ProviderID == p.ID && !b.Billed
				})
				if hasUnbilled != *filter.HasBarrelsToBill {
					continue
				}
			}
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (m *MemoryAdapter) DeleteProvider(_ context.Context, id string) error {
	return m.write(func(s *memoryState) error {
		if _, ok := s.providers[id]; !ok {
			return errors.Wrapf(domain.ErrNotFound, "provider %s", id)
		}
		for invID, inv := range s.invoices {
			if inv.ProviderID == id {
				delete(s.lines, invID)
				delete(s.invoices, invID)
			}
		}
		for barrelID, b := range s.barrels {
			if b.ProviderID == id {
				delete(s.barrels, barrelID)
			}
		}
		delete(s.providers, id)
		return nil
	})
}

func (m *MemoryAdapter) CreateBarrel(_ context.Context, b domain.Barrel) error {
	return m.write(func(s *memoryState) error {
		if _, ok := s.providers[b.ProviderID]; !ok {
			return errors.Wrapf(domain.ErrNotFound, "provider %s", b.ProviderID)
		}
		for _, existing := range s.barrels {
			if existing.ID == b.ID || (existing.ProviderID == b.ProviderID && existing.Number == b.Number) {
				return errors.Wrapf(domain.ErrAlreadyExists, "barrel %s for provider %s", b.Number, b.ProviderID)
			}
		}
		s.barrels[b.ID] = b
		return nil
	})
}

func (m *MemoryAdapter) GetBarrel(_ context.Context, id string) (*domain.Barrel, error) {
	var b domain.Barrel
	err := m.read(func(s *memoryState) error {
		found, ok := s.barrels[id]
		if !ok {
			return errors.Wrapf(domain.ErrNotFound, "barrel %s", id)
		}
		b = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBarrelForUpdate needs no extra locking: transactions are already serialized.
func (m *MemoryAdapter) GetBarrelForUpdate(ctx context.Context, id string) (*domain.Barrel, error) {
	return m.GetBarrel(ctx, id)
}

func (m *MemoryAdapter) ListBarrels(_ context.Context, filter domain.BarrelFilter) ([]domain.Barrel, error) {
	var out []domain.Barrel
	err := m.read(func(s *memoryState) error {
		out = lo.Filter(lo.Values(s.barrels), func(b domain.Barrel, _ int) bool {
			if filter.ProviderID != "" && b.ProviderID != filter.ProviderID {
				return false
			}
			return filter.Billed == nil || b.Billed == *filter.Billed
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].Number < out[j].Number
	})
	return out, err
}

func (m *MemoryAdapter) SumLiters(_ context.Context, providerID string, billed bool) (float64, error) {
	var total float64
	err := m.read(func(s *memoryState) error {
		total = domain.TotalLiters(lo.Filter(lo.Values(s.barrels), func(b domain.Barrel, _ int) bool {
			return b.ProviderID == providerID && b.Billed == billed
		}))
		return nil
	})
	return total, err
}

func (m *MemoryAdapter) MarkBilled(_ context.Context, id string) error {
	return m.write(func(s *memoryState) error {
		b, ok := s.barrels[id]
		if !ok || b.Billed {
			return errors.Wrapf(domain.ErrAlreadyBilled, "barrel %s", id)
		}
		b.Billed = true
		b.UpdatedAt = time.Now().UTC()
		s.barrels[id] = b
		return nil
	})
}

func (m *MemoryAdapter) DeleteBarrel(_ context.Context, id string) error {
	return m.write(func(s *memoryState) error {
		if _, ok := s.barrels[id]; !ok {
			return errors.Wrapf(domain.ErrNotFound, "barrel %s", id)
		}
		if s.barrelReferenced(id) {
			return errors.Wrapf(domain.ErrBarrelReferenced, "barrel %s", id)
		}
		delete(s.barrels, id)
		return nil
	})
}

func (m *MemoryAdapter) CreateInvoice(_ context.Context, inv domain.Invoice) error {
	return m.write(func(s *memoryState) error {
		if _, ok := s.providers[inv.ProviderID]; !ok {
			return errors.Wrapf(domain.ErrNotFound, "provider %s", inv.ProviderID)
		}
		for _, existing := range s.invoices {
			if existing.ID == inv.ID || existing.InvoiceNo == inv.InvoiceNo {
				return errors.Wrapf(domain.ErrAlreadyExists, "invoice %s", inv.InvoiceNo)
			}
		}
		s.invoices[inv.ID] = inv
		return nil
	})
}

func (m *MemoryAdapter) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := m.read(func(s *memoryState) error {
		found, ok := s.invoices[id]
		if !ok {
			return errors.Wrapf(domain.ErrNotFound, "invoice %s", id)
		}
		inv = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (m *MemoryAdapter) GetInvoiceForUpdate(ctx context.Context, id string) (*domain.Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *MemoryAdapter) ListInvoices(_ context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	needle := strings.ToLower(filter.InvoiceNo)
	var out []domain.Invoice
	err := m.read(func(s *memoryState) error {
		out = lo.Filter(lo.Values(s.invoices), func(inv domain.Invoice, _ int) bool {
			if needle != "" && !strings.Contains(strings.ToLower(inv.InvoiceNo), needle) {
				return false
			}
			if filter.IssuedAfter != nil && inv.IssuedOn.Before(domain.DateOf(*filter.IssuedAfter)) {
				return false
			}
			if filter.IssuedBefore != nil && inv.IssuedOn.After(domain.DateOf(*filter.IssuedBefore)) {
				return false
			}
			return filter.ProviderID == "" || inv.ProviderID == filter.ProviderID
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedOn.Equal(out[j].IssuedOn) {
			return out[i].IssuedOn.After(out[j].IssuedOn)
		}
		return out[i].InvoiceNo < out[j].InvoiceNo
	})
	return out, err
}

func (m *MemoryAdapter) AddLine(_ context.Context, l domain.InvoiceLine) error {
	return m.write(func(s *memoryState) error {
		if _, ok := s.invoices[l.InvoiceID]; !ok {
			return errors.Wrapf(domain.ErrNotFound, "invoice %s", l.InvoiceID)
		}
		if _, ok := s.barrels[l.BarrelID]; !ok {
			return errors.Wrapf(domain.ErrNotFound, "barrel %s", l.BarrelID)
		}
		if s.barrelReferenced(l.BarrelID) {
			return errors.Wrapf(domain.ErrAlreadyBilled, "barrel %s", l.BarrelID)
		}
		for _, existing := range s.lines[l.InvoiceID] {
			if existing.Position == l.Position {
				return errors.Wrapf(domain.ErrAlreadyExists, "line %d of invoice %s", l.Position, l.InvoiceID)
			}
		}
		s.lines[l.InvoiceID] = append(s.lines[l.InvoiceID], l)
		return nil
	})
}

func (m *MemoryAdapter) ListLines(_ context.Context, invoiceID string) ([]domain.InvoiceLine, error) {
	var out []domain.InvoiceLine
	err := m.read(func(s *memoryState) error {
		out = append(out, s.lines[invoiceID]...)
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, err
}

func (m *MemoryAdapter) CountLines(_ context.Context, invoiceID string) (int, error) {
	var n int
	err := m.read(func(s *memoryState) error {
		n = len(s.lines[invoiceID])
		return nil
	})
	return n, err
}
