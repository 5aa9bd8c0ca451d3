package kvstore

import (
	"errors"

	"github.com/cockroachdb/pebble/v2"
)

type pebbleIndex struct {
	db *pebble.DB
}

func openPebbleIndex(dir string) (*pebbleIndex, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &pebbleIndex{db: db}, nil
}

func (p *pebbleIndex) get(key string) ([]byte, error) {
	value, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), value...)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *pebbleIndex) set(key string, value []byte, sync bool) error {
	wo := pebble.NoSync
	if sync {
		wo = pebble.Sync
	}
	return p.db.Set([]byte(key), value, wo)
}

func (p *pebbleIndex) delete(key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *pebbleIndex) scan(fn func(key string, raw []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(string(iter.Key()), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *pebbleIndex) clear() error {
	batch := p.db.NewBatch()
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		_ = batch.Close()
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := batch.Delete(iter.Key(), nil); err != nil {
			_ = iter.Close()
			_ = batch.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		_ = batch.Close()
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (p *pebbleIndex) close() error {
	return p.db.Close()
}
