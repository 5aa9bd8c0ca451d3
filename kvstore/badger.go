package kvstore

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

type badgerIndex struct {
	db *badger.DB
}

func openBadgerIndex(dir string) (*badgerIndex, error) {
	opt := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opt)
	if err != nil {
		return nil, err
	}
	return &badgerIndex{db: db}, nil
}

func (b *badgerIndex) get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// set ignores the sync hint; badger durability follows its own SyncWrites
// policy.
func (b *badgerIndex) set(key string, value []byte, sync bool) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (b *badgerIndex) delete(key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *badgerIndex) scan(fn func(key string, raw []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerIndex) clear() error {
	return b.db.DropAll()
}

func (b *badgerIndex) close() error {
	return b.db.Close()
}
