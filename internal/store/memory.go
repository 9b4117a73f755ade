package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"shipsync/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// All tests run against it.
type Memory struct {
	mu      sync.Mutex
	items   map[string]model.MethodItem // item id -> item
	locks   map[string]time.Time       // lock name -> expiry
	options map[string]string
	orders  map[string]model.Order
	notes   map[string][]string // order id -> notes
	nextID  int

	// Now is the clock; swapped in tests.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		items:   map[string]model.MethodItem{},
		locks:   map[string]time.Time{},
		options: map[string]string{},
		orders:  map[string]model.Order{},
		notes:   map[string][]string{},
		Now:     time.Now,
	}
}

func (m *Memory) ReplaceItems(ctx context.Context, country, carrier, methodType string, items []model.MethodItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incoming := map[string]bool{}
	for _, it := range items {
		incoming[it.ID] = true
	}
	for id, it := range m.items {
		if it.CountryCode == country && it.CarrierCode == carrier && it.MethodType == methodType && !incoming[id] {
			delete(m.items, id)
		}
	}
	for _, it := range items {
		it.CountryCode = country
		it.CarrierCode = carrier
		it.MethodType = methodType
		m.items[it.ID] = it
	}
	return nil
}

func (m *Memory) GetItems(ctx context.Context, country, carrier, methodType string) ([]model.MethodItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.MethodItem{}
	for _, it := range m.items {
		if matchItem(it, country, carrier, methodType) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func matchItem(it model.MethodItem, country, carrier, methodType string) bool {
	if country != "" && it.CountryCode != country {
		return false
	}
	if carrier != "" && it.CarrierCode != carrier {
		return false
	}
	if methodType != "" && it.MethodType != methodType {
		return false
	}
	return true
}

func (m *Memory) GetItem(ctx context.Context, itemID string) (model.MethodItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return model.MethodItem{}, ErrNotFound
	}
	return it, nil
}

func (m *Memory) GetCourierItemID(ctx context.Context, country, carrier string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := ""
	for _, it := range m.items {
		if it.CountryCode == country && it.CarrierCode == carrier && it.MethodType == model.MethodTypeCourier {
			if best == "" || it.ID < best {
				best = it.ID
			}
		}
	}
	if best == "" {
		return "", ErrNotFound
	}
	return best, nil
}

func (m *Memory) AvailableCountries(ctx context.Context, carrier, methodType string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, it := range m.items {
		if it.CarrierCode == carrier && it.MethodType == methodType {
			seen[it.CountryCode] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ItemsExist(ctx context.Context, country, carrier, methodType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if matchItem(it, country, carrier, methodType) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ItemsGroupedByLocality(ctx context.Context, country, carrier, methodType string) ([]model.LocalityGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byLoc := map[string][]model.MethodItem{}
	for _, it := range m.items {
		if matchItem(it, country, carrier, methodType) {
			byLoc[it.Locality] = append(byLoc[it.Locality], it)
		}
	}
	groups := make([]model.LocalityGroup, 0, len(byLoc))
	for loc, its := range byLoc {
		sort.Slice(its, func(i, j int) bool { return its[i].Name < its[j].Name })
		groups = append(groups, model.LocalityGroup{Locality: loc, Items: its})
	}
	// Busiest localities first; ties break on name for stable output.
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].Items) != len(groups[j].Items) {
			return len(groups[i].Items) > len(groups[j].Items)
		}
		return groups[i].Locality < groups[j].Locality
	})
	return groups, nil
}

func (m *Memory) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	if exp, ok := m.locks[name]; ok && exp.After(now) {
		return false, nil
	}
	m.locks[name] = now.Add(ttl)
	return true, nil
}

func (m *Memory) ReleaseLock(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, name)
	return nil
}

func (m *Memory) LockExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.locks[name]
	return ok && exp.After(m.Now()), nil
}

func (m *Memory) GetOption(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.options[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetOption(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[name] = value
	return nil
}

func (m *Memory) CreateOrder(ctx context.Context, o model.Order) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == "" {
		m.nextID++
		o.ID = strconv.Itoa(m.nextID)
	}
	if o.Number == "" {
		o.Number = o.ID
	}
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	m.orders[o.ID] = cloneOrder(o)
	return o, nil
}

func (m *Memory) GetOrder(ctx context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *Memory) UpdateOrder(ctx context.Context, o model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return ErrNotFound
	}
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *Memory) FindOrderByMeta(ctx context.Context, key, value string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Meta[key] == value {
			return cloneOrder(o), nil
		}
	}
	return model.Order{}, ErrNotFound
}

func (m *Memory) SetOrderMeta(ctx context.Context, orderID string, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	for k, v := range meta {
		o.Meta[k] = v
	}
	m.orders[orderID] = o
	return nil
}

func (m *Memory) AddOrderNote(ctx context.Context, orderID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return ErrNotFound
	}
	m.notes[orderID] = append(m.notes[orderID], note)
	return nil
}

func (m *Memory) ListOrderNotes(ctx context.Context, orderID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notes[orderID]...), nil
}

func cloneOrder(o model.Order) model.Order {
	meta := make(map[string]string, len(o.Meta))
	for k, v := range o.Meta {
		meta[k] = v
	}
	o.Meta = meta
	o.Items = append([]model.LineItem(nil), o.Items...)
	return o
}
