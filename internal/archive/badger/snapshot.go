package badger

import (
	"context"
	"errors"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	alarms "plantwatch/internal/alarms/domain"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

const (
	supervisionPrefix = "snapshot/supervision/"
	alarmPrefix       = "snapshot/alarm/"
	tagPrefix         = "snapshot/tag/"
)

// Snapshot keeps the last known state of every record, overwriting on each write.
type Snapshot struct {
	db *badgerdb.DB
}

// NewSnapshot constructs a snapshot sink.
func NewSnapshot(db *badgerdb.DB) (*Snapshot, error) {
	if db == nil {
		return nil, errors.New("archive badger: nil db")
	}
	return &Snapshot{db: db}, nil
}

// SupervisionChanged implements archive.Sink.
func (s *Snapshot) SupervisionChanged(_ context.Context, record supervision.Record) error {
	return s.put(supervisionPrefix+record.Ref().Key(), record)
}

// AlarmPublished implements archive.Sink.
func (s *Snapshot) AlarmPublished(_ context.Context, _ string, alarm alarms.Alarm) error {
	return s.put(alarmPrefix+alarm.ID, alarm)
}

// TagUpdated implements archive.Sink.
func (s *Snapshot) TagUpdated(_ context.Context, tag tags.Tag) error {
	return s.put(tagPrefix+tag.ID, tag)
}

// Alarms returns the stored alarms keyed by id.
func (s *Snapshot) Alarms() (map[string]alarms.Alarm, error) {
	return load[alarms.Alarm](s.db, alarmPrefix)
}

// Supervision returns the stored records keyed by ref key.
func (s *Snapshot) Supervision() (map[string]supervision.Record, error) {
	return load[supervision.Record](s.db, supervisionPrefix)
}

// Tags returns the stored tags keyed by id.
func (s *Snapshot) Tags() (map[string]tags.Tag, error) {
	return load[tags.Tag](s.db, tagPrefix)
}

func (s *Snapshot) put(key string, value any) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func load[V any](db *badgerdb.DB, prefix string) (map[string]V, error) {
	out := make(map[string]V)
	err := db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var value V
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &value)
			}); err != nil {
				return err
			}
			out[string(item.Key()[len(prefix):])] = value
		}
		return nil
	})
	return out, err
}
