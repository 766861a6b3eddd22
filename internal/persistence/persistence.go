// Package persistence implements the hydrate/dehydrate pipeline: writing a
// cache's queries to a durable store on success and restoring them on
// startup, with maxAge-based discard and first-observer-wins persist
// options (spec.md §4.11). The Persister/Serializer split is grounded on
// the teacher's internal/cache LRU/TTL
// store (internal/cache/cache.go), generalized from an in-process tier to an
// external store.
package persistence

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/peervault-labs/fluquery/internal/query"
	"github.com/peervault-labs/fluquery/internal/querycache"
	"github.com/peervault-labs/fluquery/internal/querykey"
)

// ErrNotFound is returned by Persister.Load when no entry exists for a key.
var ErrNotFound = errors.New("persistence: no entry for key")

// Persister is the durable-store abstraction a PersistenceManager writes
// through to and hydrates from (spec.md §4.11). Implementations live in
// sibling packages (memorypersister, filepersister).
type Persister interface {
	Save(hash querykey.Hash, entry PersistedQuery) error
	Load(hash querykey.Hash) (PersistedQuery, error)
	Remove(hash querykey.Hash) error
	All() (map[querykey.Hash]PersistedQuery, error)
}

// PersistedQuery is the durable, serialization-stable shape of one cached
// query (spec.md §6.3).
type PersistedQuery struct {
	Key           querykey.Key    `json:"key"`
	Data          json.RawMessage `json:"data"`
	DataUpdatedAt time.Time       `json:"dataUpdatedAt"`
}

// Options is the first-observer-wins persistence configuration attached to
// a Query via Manager.RegisterPersist (spec.md §4.11). The zero value is a
// valid, fully-backward-compatible configuration: no maxAge discard, the
// Manager's default Codec, no key namespacing, and discard-on-bad-data.
type Options struct {
	// MaxAge discards an entry, rather than deserializing it, once it is
	// older than MaxAge when its persist options are registered. Zero
	// means never discard on age.
	MaxAge time.Duration

	// Serializer overrides the Manager's default Codec for this key. Nil
	// uses the Manager's Codec.
	Serializer *Codec

	// KeyPrefix namespaces this key's storage-level hash, so two
	// Coordinators sharing one Persister (e.g. one file, one Redis
	// instance) don't collide (spec.md §4.11 multi-tenant isolation).
	KeyPrefix string

	// RemoveOnDeserializationError controls whether a key whose stored
	// bytes fail to deserialize is removed from the store. Nil defaults
	// to true: a record a reader can no longer understand (schema drift,
	// corruption) is not worth keeping around to fail again next startup.
	RemoveOnDeserializationError *bool
}

func (o Options) removeOnDeserializationError() bool {
	if o.RemoveOnDeserializationError == nil {
		return true
	}
	return *o.RemoveOnDeserializationError
}

// storageHash applies KeyPrefix to hash for Persister calls. The natural
// in-memory cache hash (querykey.HashOf) never carries a prefix; only the
// durable-store key does, so two Coordinators can share one Persister
// without their queries colliding there.
func (o Options) storageHash(hash querykey.Hash) querykey.Hash {
	if o.KeyPrefix == "" {
		return hash
	}
	return querykey.Hash(o.KeyPrefix + ":" + string(hash))
}

// Manager wires a Cache to a Persister: it write-throughs on every success
// event and exposes Hydrate/Dehydrate for startup/shutdown (spec.md §4.11).
type Manager struct {
	cache     *querycache.Cache
	persister Persister
	codec     Codec

	unsubscribe func()
}

// Codec lets callers plug in a typed (de)serialization strategy; the zero
// value uses encoding/json against `any`, which round-trips JSON-compatible
// data (numbers as float64, etc.) the same way encoding/json always does.
type Codec struct {
	Marshal   func(any) (json.RawMessage, error)
	Unmarshal func(json.RawMessage) (any, error)
}

func defaultCodec() Codec {
	return Codec{
		Marshal: func(v any) (json.RawMessage, error) {
			return json.Marshal(v)
		},
		Unmarshal: func(raw json.RawMessage) (any, error) {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// New wires a Manager to cache and persister. It subscribes to the cache's
// event stream immediately, so every subsequent success is written through.
func New(cache *querycache.Cache, persister Persister, codec *Codec) *Manager {
	c := defaultCodec()
	if codec != nil {
		if codec.Marshal != nil {
			c.Marshal = codec.Marshal
		}
		if codec.Unmarshal != nil {
			c.Unmarshal = codec.Unmarshal
		}
	}

	m := &Manager{cache: cache, persister: persister, codec: c}
	m.unsubscribe = cache.Subscribe(m.onEvent)
	return m
}

// codecFor returns opts.Serializer if set, else the Manager's default Codec.
func (m *Manager) codecFor(opts Options) Codec {
	if opts.Serializer != nil {
		return *opts.Serializer
	}
	return m.codec
}

// optionsOf extracts this package's Options from a Query's persist
// registration, which Query stores as `any` to avoid an import cycle.
func optionsOf(q *query.Query) (Options, bool) {
	v := q.PersistOptions()
	if v == nil {
		return Options{}, false
	}
	opts, ok := v.(Options)
	return opts, ok
}

func (m *Manager) onEvent(ev querycache.Event) {
	if ev.Kind != querycache.EventUpdated {
		return
	}
	q := ev.Query
	opts, ok := optionsOf(q)
	if !ok {
		return
	}
	snap := q.Snapshot()
	if snap.Status != query.StatusSuccess {
		return
	}

	raw, err := m.codecFor(opts).Marshal(snap.Data)
	if err != nil {
		return
	}
	_ = m.persister.Save(opts.storageHash(q.Hash()), PersistedQuery{
		Key:           q.Key(),
		Data:          raw,
		DataUpdatedAt: snap.DataUpdatedAt,
	})
}

// Dehydrate returns the serializable snapshot of every persistable query
// currently holding data in the cache (spec.md §4.11 "dehydrate"),
// independent of whatever is already durably stored.
func (m *Manager) Dehydrate() ([]PersistedQuery, error) {
	var out []PersistedQuery
	for _, q := range m.cache.All() {
		opts, ok := optionsOf(q)
		if !ok {
			continue
		}
		snap := q.Snapshot()
		if !snap.HasData {
			continue
		}
		if raw, isRaw := snap.Data.(json.RawMessage); isRaw {
			out = append(out, PersistedQuery{Key: q.Key(), Data: raw, DataUpdatedAt: snap.DataUpdatedAt})
			continue
		}
		raw, err := m.codecFor(opts).Marshal(snap.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, PersistedQuery{Key: q.Key(), Data: raw, DataUpdatedAt: snap.DataUpdatedAt})
	}
	return out, nil
}

// Hydrate unconditionally seeds raw (still-serialized) data from the
// persister for every key not already holding data in the cache (spec.md
// §4.11 hydrate step 1). No maxAge check happens here: a key's maxAge is
// only known once an application registers persist options for it via
// RegisterPersist, which is when the deserialization pass (and any
// resulting discard) actually runs. A query already present in the cache
// with data is left untouched (an in-memory query that already has fresher
// state than the store must not be clobbered by hydration).
func (m *Manager) Hydrate() error {
	entries, err := m.persister.All()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		q, _, err := m.cache.Build(entry.Key)
		if err != nil {
			continue
		}
		if q.Snapshot().HasData {
			continue
		}
		q.SeedRaw(entry.Data, entry.DataUpdatedAt)
	}
	return nil
}

// RegisterPersist attaches persist options to q, delegating to
// query.Query.RegisterPersist for the first-observer-wins reduction, and
// the first time this key is registered runs the deserialization pass over
// whatever raw data Hydrate may have seeded (spec.md §4.11 hydrate step 2):
// a maxAge check, then deserialization via opts' Codec. An entry older than
// MaxAge is always discarded; an entry that fails to decode is discarded
// only per opts.RemoveOnDeserializationError. Returns the
// effective (possibly earlier-registered) Options and the registration
// count after this call.
func (m *Manager) RegisterPersist(q *query.Query, opts Options) (Options, int) {
	effective, count := q.RegisterPersist(opts)
	eff := effective.(Options)
	if count == 1 {
		m.deserialize(q, eff)
	}
	return eff, count
}

// DeregisterPersist decrements q's persist registration count (spec.md
// §4.11; options and any scheduled write-through persist beyond zero).
func (m *Manager) DeregisterPersist(q *query.Query) {
	q.DeregisterPersist()
}

func (m *Manager) deserialize(q *query.Query, opts Options) {
	snap := q.Snapshot()
	if !snap.HasData {
		return
	}
	raw, isRaw := snap.Data.(json.RawMessage)
	if !isRaw {
		// Already holds live (non-hydrated) data; nothing to deserialize.
		return
	}

	if opts.MaxAge > 0 && time.Since(snap.DataUpdatedAt) > opts.MaxAge {
		q.Reset()
		_ = m.persister.Remove(opts.storageHash(q.Hash()))
		return
	}

	data, err := m.codecFor(opts).Unmarshal(raw)
	if err != nil {
		if opts.removeOnDeserializationError() {
			q.Reset()
			_ = m.persister.Remove(opts.storageHash(q.Hash()))
		}
		return
	}
	q.SeedRaw(data, snap.DataUpdatedAt)
}

// Close stops write-through persistence.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}
