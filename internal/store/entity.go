package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Entity provides generic CRUD over one key prefix. Every operation runs
// inside a caller-supplied badger transaction, so several entities can be
// written in one atomic unit.
type Entity[T any] struct {
	prefix  string
	indexes []Index[T]
}

// Index defines a secondary index on an entity.
//
// A unique index maps each value to exactly one id and rejects a second
// writer with ErrAlreadyExists. A non-unique index stores one key per
// (value, id) pair and is read with a prefix scan.
type Index[T any] struct {
	name            string
	keyGen          func(*T) []string
	lookupTransform func(string) string
	unique          bool
}

// NewEntity creates a new Entity for keys under prefix.
func NewEntity[T any](prefix string) *Entity[T] {
	return &Entity[T]{prefix: prefix}
}

// WithIndex adds a unique secondary index.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen, unique: true})
	return e
}

// WithIndexTransform adds a unique index whose lookups are normalized
// with lookupTransform (case folding, punctuation stripping, ...).
func (e *Entity[T]) WithIndexTransform(name string, keyGen func(*T) []string, lookupTransform func(string) string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{
		name:            name,
		keyGen:          keyGen,
		lookupTransform: lookupTransform,
		unique:          true,
	})
	return e
}

// WithMultiIndex adds a non-unique secondary index.
func (e *Entity[T]) WithMultiIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen})
	return e
}

func (e *Entity[T]) key(id string) []byte {
	return []byte(e.prefix + id)
}

func (e *Entity[T]) indexPrefix(name string) string {
	return e.prefix + "idx:" + name + ":"
}

func (e *Entity[T]) indexKey(idx Index[T], value, id string) []byte {
	if idx.unique {
		return []byte(e.indexPrefix(idx.name) + value)
	}
	return []byte(e.indexPrefix(idx.name) + value + ":" + id)
}

func (e *Entity[T]) index(name string) (Index[T], bool) {
	for _, idx := range e.indexes {
		if idx.name == name {
			return idx, true
		}
	}
	return Index[T]{}, false
}

func (e *Entity[T]) read(txn *badger.Txn, key []byte) (*T, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	var entity T
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entity)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return &entity, nil
}

func (e *Entity[T]) writeIndexes(txn *badger.Txn, id string, entity *T, skip map[string]bool) error {
	for _, idx := range e.indexes {
		for _, value := range idx.keyGen(entity) {
			key := e.indexKey(idx, value, id)
			if skip[string(key)] {
				continue
			}
			if idx.unique {
				_, err := txn.Get(key)
				if err == nil {
					return fmt.Errorf("index %s conflict on key %s: %w", idx.name, value, ErrAlreadyExists)
				}
				if !errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("failed to check index key: %w", err)
				}
			}
			if err := txn.Set(key, []byte(id)); err != nil {
				return fmt.Errorf("failed to set index key: %w", err)
			}
		}
	}
	return nil
}

func (e *Entity[T]) indexKeys(id string, entity *T) map[string]bool {
	keys := make(map[string]bool)
	for _, idx := range e.indexes {
		for _, value := range idx.keyGen(entity) {
			keys[string(e.indexKey(idx, value, id))] = true
		}
	}
	return keys
}

// Create stores a new entity under id.
// Returns ErrAlreadyExists if the id or a unique index value is taken.
func (e *Entity[T]) Create(txn *badger.Txn, id string, entity *T) error {
	key := e.key(id)

	_, err := txn.Get(key)
	if err == nil {
		return ErrAlreadyExists
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to check existing key: %w", err)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	if err := e.writeIndexes(txn, id, entity, nil); err != nil {
		return err
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Get retrieves an entity by ID.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Get(txn *badger.Txn, id string) (*T, error) {
	return e.read(txn, e.key(id))
}

// Lookup resolves a unique index value to an id.
func (e *Entity[T]) Lookup(txn *badger.Txn, indexName, value string) (string, error) {
	idx, ok := e.index(indexName)
	if !ok || !idx.unique {
		return "", fmt.Errorf("no unique index %q on %s", indexName, e.prefix)
	}
	if idx.lookupTransform != nil {
		value = idx.lookupTransform(value)
	}

	item, err := txn.Get(e.indexKey(idx, value, ""))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	var id string
	err = item.Value(func(val []byte) error {
		id = string(val)
		return nil
	})
	return id, err
}

// GetByIndex retrieves an entity by a unique secondary index.
func (e *Entity[T]) GetByIndex(txn *badger.Txn, indexName, value string) (*T, error) {
	id, err := e.Lookup(txn, indexName, value)
	if err != nil {
		return nil, err
	}
	return e.Get(txn, id)
}

// IndexIDs returns the ids stored under an index. For a non-unique index,
// value selects one bucket; an empty value walks the whole index.
func (e *Entity[T]) IndexIDs(txn *badger.Txn, indexName, value string) ([]string, error) {
	idx, ok := e.index(indexName)
	if !ok {
		return nil, fmt.Errorf("no index %q on %s", indexName, e.prefix)
	}

	prefix := e.indexPrefix(idx.name)
	if value != "" {
		if idx.lookupTransform != nil {
			value = idx.lookupTransform(value)
		}
		prefix += value
		if !idx.unique {
			prefix += ":"
		}
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			ids = append(ids, string(val))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Update replaces an existing entity and rewrites its index entries.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Update(txn *badger.Txn, id string, entity *T) error {
	old, err := e.Get(txn, id)
	if err != nil {
		return err
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	oldKeys := e.indexKeys(id, old)
	newKeys := e.indexKeys(id, entity)

	for key := range oldKeys {
		if newKeys[key] {
			continue
		}
		if err := txn.Delete([]byte(key)); err != nil {
			return fmt.Errorf("failed to delete old index key: %w", err)
		}
	}

	// Keys the entity already owned need no conflict check.
	if err := e.writeIndexes(txn, id, entity, oldKeys); err != nil {
		return err
	}

	if err := txn.Set(e.key(id), data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Delete removes an entity and its index entries. Deleting a missing id is a no-op.
func (e *Entity[T]) Delete(txn *badger.Txn, id string) error {
	entity, err := e.Get(txn, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	for key := range e.indexKeys(id, entity) {
		if err := txn.Delete([]byte(key)); err != nil {
			return fmt.Errorf("failed to delete index key: %w", err)
		}
	}
	if err := txn.Delete(e.key(id)); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Scan calls fn for every entity in key order until fn returns false.
func (e *Entity[T]) Scan(txn *badger.Txn, fn func(*T) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(e.prefix)
	opts.PrefetchValues = true

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		if strings.HasPrefix(string(it.Item().Key()[len(e.prefix):]), "idx:") {
			continue
		}

		var entity T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &entity)
		}); err != nil {
			return fmt.Errorf("failed to unmarshal entity: %w", err)
		}

		if !fn(&entity) {
			return nil
		}
	}
	return nil
}

// All collects every entity.
func (e *Entity[T]) All(txn *badger.Txn) ([]*T, error) {
	var out []*T
	err := e.Scan(txn, func(v *T) bool {
		out = append(out, v)
		return true
	})
	return out, err
}

// GetMany loads the entities for ids, skipping ids that no longer resolve.
func (e *Entity[T]) GetMany(txn *badger.Txn, ids []string) ([]*T, error) {
	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		v, err := e.Get(txn, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
