package store

import (
	"sort"
	"sync"

	"github.com/jpalmerr/zync/internal/deployer"
)

// subscriberBuffer is the channel capacity of each subscription.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Updates are sent to subscribers non-blocking; if a subscriber's buffer is
// full, the event is dropped for that subscriber.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[string]Row
	errors []deployer.ErrorEntry
	teams  []deployer.TeamDeployment

	subscribers map[chan Event]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:        make(map[string]Row),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Update stores a [Row] and notifies all subscribers.
func (m *MemoryStore) Update(row Row) {
	m.mu.Lock()
	m.rows[row.Key] = row
	m.mu.Unlock()

	m.notifySubscribers(Event{Type: EventRow, Row: &row})
}

// Modify applies fn to a stored row in place.
func (m *MemoryStore) Modify(key string, fn func(*Row)) bool {
	m.mu.Lock()
	row, ok := m.rows[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	fn(&row)
	row.Key = key
	m.rows[key] = row
	m.mu.Unlock()

	m.notifySubscribers(Event{Type: EventRow, Row: &row})
	return true
}

// Get returns one row.
func (m *MemoryStore) Get(key string) (Row, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[key]
	return row, ok
}

// GetAll returns a sorted snapshot of all rows.
func (m *MemoryStore) GetAll() []Row {
	m.mu.RLock()
	rows := make([]Row, 0, len(m.rows))
	for _, row := range m.rows {
		rows = append(rows, row)
	}
	m.mu.RUnlock()

	SortRows(rows)
	return rows
}

// Replace swaps the whole row set and sends a reset event.
func (m *MemoryStore) Replace(rows []Row) {
	next := make(map[string]Row, len(rows))
	for _, row := range rows {
		next[row.Key] = row
	}

	m.mu.Lock()
	m.rows = next
	m.mu.Unlock()

	snapshot := m.GetAll()
	m.notifySubscribers(Event{Type: EventReset, Rows: snapshot})
}

// SetErrors replaces the error list.
func (m *MemoryStore) SetErrors(entries []deployer.ErrorEntry) {
	cp := append([]deployer.ErrorEntry(nil), entries...)

	m.mu.Lock()
	m.errors = cp
	m.mu.Unlock()

	m.notifySubscribers(Event{Type: EventErrors, Errors: cp})
}

// SetTeams replaces the team list.
func (m *MemoryStore) SetTeams(teams []deployer.TeamDeployment) {
	cp := append([]deployer.TeamDeployment(nil), teams...)

	m.mu.Lock()
	m.teams = cp
	m.mu.Unlock()

	m.notifySubscribers(Event{Type: EventTeams, Teams: cp})
}

// Errors returns a copy of the error list.
func (m *MemoryStore) Errors() []deployer.ErrorEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]deployer.ErrorEntry(nil), m.errors...)
}

// Teams returns a copy of the team list.
func (m *MemoryStore) Teams() []deployer.TeamDeployment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]deployer.TeamDeployment(nil), m.teams...)
}

// Subscribe creates a new subscription and returns a channel for receiving
// events.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the event to all active subscribers without
// blocking.
func (m *MemoryStore) notifySubscribers(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is slow, drop the event
		}
	}
}

// SortRows orders rows by category, then challenge name.
func SortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].ChallengeName < rows[j].ChallengeName
	})
}
