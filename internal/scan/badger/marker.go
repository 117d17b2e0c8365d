package badger

import (
	"context"
	"errors"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"plantwatch/internal/scan"
)

const keyPrefix = "scan/marker/"

type claim struct {
	At time.Time `msgpack:"at"`
}

// Marker claims scans in an embedded store. Concurrent claims are resolved by the
// transaction conflict check.
type Marker struct {
	db *badgerdb.DB
}

// NewMarker constructs a badger marker.
func NewMarker(db *badgerdb.DB) (*Marker, error) {
	if db == nil {
		return nil, errors.New("scan badger: nil db")
	}
	return &Marker{db: db}, nil
}

var errNotDue = errors.New("scan badger: not due")

// Claim implements scan.Marker.
func (m *Marker) Claim(_ context.Context, name string, now time.Time, period time.Duration) (bool, error) {
	key := []byte(keyPrefix + name)
	err := m.db.Update(func(txn *badgerdb.Txn) error {
		var last time.Time
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badgerdb.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var stored claim
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}
			last = stored.At
		}
		if !scan.Due(last, now, period) {
			return errNotDue
		}
		data, err := msgpack.Marshal(claim{At: now.UTC()})
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotDue), errors.Is(err, badgerdb.ErrConflict):
		return false, nil
	default:
		return false, err
	}
}
