package state

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"convertnet/core/events"
	"convertnet/storage"
)

var (
	// ErrNoTransaction is returned when Commit or Revert is called with no
	// open snapshot.
	ErrNoTransaction = errors.New("state: no open snapshot")
	// ErrInvalidSnapshot is returned for snapshot ids that were already
	// reverted or never issued.
	ErrInvalidSnapshot = errors.New("state: invalid snapshot")
)

// Manager is the engine's key-value state. Writes go to an in-memory cache
// backed by a journal so that any prefix of work can be undone; nothing
// reaches the database, and no event reaches the emitter, until Commit.
//
// Entry points serialise on the manager with Exclusive (mutations) or View
// (reads). Neither is reentrant.
type Manager struct {
	lock sync.Mutex

	mu        sync.RWMutex
	db        storage.Database
	dirty     map[string]entry
	journal   []change
	snapshots []snapshot
	pending   []events.Event
	emitter   events.Emitter
	logger    *slog.Logger
}

type entry struct {
	value   []byte
	deleted bool
}

type change struct {
	key     string
	prev    entry
	present bool
}

type snapshot struct {
	journal int
	events  int
}

// NewManager creates a state manager on top of db.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		dirty:   make(map[string]entry),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetEmitter configures the sink that receives events on commit.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

// SetLogger overrides the logger used for commit diagnostics.
func (m *Manager) SetLogger(logger *slog.Logger) {
	if m == nil || logger == nil {
		return
	}
	m.logger = logger
}

// Exclusive runs fn with the state lock held. Every write and event produced
// by fn is committed when it returns nil and discarded otherwise.
func (m *Manager) Exclusive(fn func() error) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	id := m.Snapshot()
	if err := fn(); err != nil {
		if revertErr := m.RevertToSnapshot(id); revertErr != nil {
			return errors.Join(err, revertErr)
		}
		return err
	}
	return m.Commit()
}

// View runs fn with the state lock held and discards anything fn writes.
func (m *Manager) View(fn func() error) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	id := m.Snapshot()
	err := fn()
	if revertErr := m.RevertToSnapshot(id); revertErr != nil {
		return errors.Join(err, revertErr)
	}
	return err
}

// Snapshot opens a revert point and returns its id.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snapshot{journal: len(m.journal), events: len(m.pending)})
	return len(m.snapshots) - 1
}

// RevertToSnapshot undoes every write and drops every event recorded since
// the snapshot with the given id was taken. Later snapshots are invalidated.
func (m *Manager) RevertToSnapshot(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.snapshots) {
		return ErrInvalidSnapshot
	}
	snap := m.snapshots[id]
	for i := len(m.journal) - 1; i >= snap.journal; i-- {
		c := m.journal[i]
		if c.present {
			m.dirty[c.key] = c.prev
		} else {
			delete(m.dirty, c.key)
		}
	}
	m.journal = m.journal[:snap.journal]
	m.pending = m.pending[:snap.events]
	m.snapshots = m.snapshots[:id]
	return nil
}

// Commit flushes the write cache to the database in one batch and then
// delivers the pending events in emission order.
func (m *Manager) Commit() error {
	m.mu.Lock()
	if len(m.snapshots) == 0 {
		m.mu.Unlock()
		return ErrNoTransaction
	}
	batch := m.db.NewBatch()
	for key, e := range m.dirty {
		if e.deleted {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), e.value)
		}
	}
	if err := batch.Write(); err != nil {
		m.dirty = make(map[string]entry)
		m.journal = nil
		m.pending = nil
		m.snapshots = nil
		m.mu.Unlock()
		return fmt.Errorf("state: commit: %w", err)
	}
	pending := m.pending
	emitter := m.emitter
	m.dirty = make(map[string]entry)
	m.journal = nil
	m.pending = nil
	m.snapshots = nil
	m.mu.Unlock()

	m.logger.Debug("state committed", slog.Int("writes", batch.Len()), slog.Int("events", len(pending)))
	for _, evt := range pending {
		emitter.Emit(evt)
	}
	return nil
}

// Emit journals evt so that it reaches the emitter only if the surrounding
// work commits.
func (m *Manager) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, evt)
	m.mu.Unlock()
}

// PendingEvents returns the events recorded since the last commit.
func (m *Manager) PendingEvents() []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]events.Event, len(m.pending))
	copy(out, m.pending)
	return out
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.dirty[string(hashed)]
	m.mu.RUnlock()
	if ok {
		if e.deleted {
			return nil, nil
		}
		return e.value, nil
	}
	value, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) set(hashed []byte, e entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(hashed)
	prev, present := m.dirty[key]
	m.journal = append(m.journal, change{key: key, prev: prev, present: present})
	m.dirty[key] = e
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(kvKey(key), entry{value: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.set(kvKey(key), entry{deleted: true})
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if string(existing) == string(value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into out. A missing key yields an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
