package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Key prefixes for the journal
const (
	prefixContext     = byte(0x01) // contexts:contextID -> Context
	prefixAssociation = byte(0x02) // assoc:source\x00name\x00dest -> journalAssociation
	prefixPoint       = byte(0x03) // points:pointID -> Point
	prefixMeta        = byte(0x04) // meta:name -> value
)

var metaAssocSeq = []byte{prefixMeta, 's', 'e', 'q'}

// Journal persists a Graph to BadgerDB.
//
// The graph stays authoritative: the journal mirrors every mutation by
// subscribing to it, and can replay its contents into a fresh graph at
// startup. Associations carry a sequence number so replay restores the
// original insertion order, which keeps primary parents stable across
// restarts.
//
// Key Structure:
//   - Contexts: 0x01 + contextID -> JSON(Context)
//   - Associations: 0x02 + source + 0x00 + name + 0x00 + dest -> JSON(seq, Association)
//   - Points: 0x03 + pointID -> JSON(Point)
//
// Example:
//
//	journal, err := storage.OpenJournal(storage.JournalOptions{DataDir: "./data"})
//	if err != nil {
//		return err
//	}
//	defer journal.Close()
//
//	g := storage.NewGraph()
//	if err := journal.Load(ctx, g); err != nil {
//		return err
//	}
//	detach := journal.Attach(g)
//	defer detach()
type Journal struct {
	db     *badger.DB
	logger *zap.Logger

	mu      sync.Mutex
	seq     uint64
	lastErr error
	closed  bool
}

// JournalOptions configures the journal.
type JournalOptions struct {
	// DataDir is the directory for data files. Required unless InMemory.
	DataDir string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger receives journal and BadgerDB diagnostics. Nil discards them.
	Logger *zap.Logger
}

type journalAssociation struct {
	Seq         uint64      `json:"seq"`
	Association Association `json:"association"`
}

// OpenJournal opens (or creates) a journal.
func OpenJournal(opts JournalOptions) (*Journal, error) {
	if !opts.InMemory && opts.DataDir == "" {
		return nil, fmt.Errorf("journal data dir: %w", ErrInvalidData)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("journal")

	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(badgerLogger{logger.Sugar()})

	// The journal is small; keep badger's footprint modest
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaAssocSeq)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				j.seq = binary.BigEndian.Uint64(val)
			}
			return nil
		})
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading journal sequence: %w", err)
	}
	return j, nil
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func contextKey(id ContextID) []byte {
	return append([]byte{prefixContext}, []byte(id)...)
}

func associationKey(k AssociationKey) []byte {
	key := make([]byte, 0, 3+len(k.SourceID)+len(k.Name)+len(k.DestID))
	key = append(key, prefixAssociation)
	key = append(key, []byte(k.SourceID)...)
	key = append(key, 0x00)
	key = append(key, []byte(k.Name)...)
	key = append(key, 0x00)
	key = append(key, []byte(k.DestID)...)
	return key
}

func pointKey(id PointID) []byte {
	return append([]byte{prefixPoint}, []byte(id)...)
}

// ============================================================================
// Writes
// ============================================================================

// PutContext stores or replaces a context.
func (j *Journal) PutContext(c *Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding context %s: %w", c.ID, err)
	}
	return j.update(func(txn *badger.Txn) error {
		return txn.Set(contextKey(c.ID), data)
	})
}

// DeleteContext removes a context record.
func (j *Journal) DeleteContext(id ContextID) error {
	return j.update(func(txn *badger.Txn) error {
		return txn.Delete(contextKey(id))
	})
}

// PutAssociation stores an association with the next sequence number. An
// existing triple keeps its original sequence.
func (j *Journal) PutAssociation(a Association) error {
	return j.update(func(txn *badger.Txn) error {
		key := associationKey(a.Key())
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		j.seq++
		data, err := json.Marshal(journalAssociation{Seq: j.seq, Association: a})
		if err != nil {
			return fmt.Errorf("encoding %s: %w", a, err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		seq := make([]byte, 8)
		binary.BigEndian.PutUint64(seq, j.seq)
		return txn.Set(metaAssocSeq, seq)
	})
}

// DeleteAssociation removes an association record.
func (j *Journal) DeleteAssociation(a Association) error {
	return j.update(func(txn *badger.Txn) error {
		return txn.Delete(associationKey(a.Key()))
	})
}

// PutPoint stores or replaces a point.
func (j *Journal) PutPoint(p *Point) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding point %s: %w", p.ID, err)
	}
	return j.update(func(txn *badger.Txn) error {
		return txn.Set(pointKey(p.ID), data)
	})
}

// DeletePoint removes a point record.
func (j *Journal) DeletePoint(id PointID) error {
	return j.update(func(txn *badger.Txn) error {
		return txn.Delete(pointKey(id))
	})
}

func (j *Journal) update(fn func(txn *badger.Txn) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrStorageClosed
	}
	return j.db.Update(fn)
}

// ============================================================================
// Mirroring
// ============================================================================

// Attach subscribes the journal to g so every mutation is persisted. Write
// failures are logged and the first one is kept for Err. The returned func
// detaches the journal.
func (j *Journal) Attach(g *Graph) func() {
	return g.Subscribe(j.apply)
}

func (j *Journal) apply(ev Event) {
	var err error
	switch ev.Kind {
	case ContextAdded, ContextChanged:
		if ev.Context != nil {
			err = j.PutContext(ev.Context)
		}
	case ContextRemoved:
		err = j.DeleteContext(ev.ContextID)
	case AssociationAdded:
		if ev.Association != nil {
			err = j.PutAssociation(*ev.Association)
		}
	case AssociationRemoved:
		if ev.Association != nil {
			err = j.DeleteAssociation(*ev.Association)
		}
	case PointAdded:
		if ev.Point != nil {
			err = j.PutPoint(ev.Point)
		}
	case PointRemoved:
		if ev.Point != nil {
			err = j.DeletePoint(ev.Point.ID)
		}
	}
	if err == nil {
		return
	}

	j.logger.Error("journal write failed",
		zap.Stringer("event", ev.Kind),
		zap.String("context_id", string(ev.ContextID)),
		zap.Error(err))
	j.mu.Lock()
	if j.lastErr == nil {
		j.lastErr = err
	}
	j.mu.Unlock()
}

// Err returns the first write failure seen while attached.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// ============================================================================
// Replay
// ============================================================================

// Load replays the journal into g: contexts first, then associations in
// their original order, then points. Records referencing missing contexts
// are logged and skipped.
func (j *Journal) Load(ctx context.Context, g *Graph) error {
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return ErrStorageClosed
	}

	var (
		contexts []*Context
		assocs   []journalAssociation
		points   []*Point
	)
	err := j.db.View(func(txn *badger.Txn) error {
		if err := scanPrefix(ctx, txn, prefixContext, func(val []byte) error {
			var c Context
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			contexts = append(contexts, &c)
			return nil
		}); err != nil {
			return err
		}
		if err := scanPrefix(ctx, txn, prefixAssociation, func(val []byte) error {
			var a journalAssociation
			if err := json.Unmarshal(val, &a); err != nil {
				return err
			}
			assocs = append(assocs, a)
			return nil
		}); err != nil {
			return err
		}
		return scanPrefix(ctx, txn, prefixPoint, func(val []byte) error {
			var p Point
			if err := json.Unmarshal(val, &p); err != nil {
				return err
			}
			points = append(points, &p)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}

	for _, c := range contexts {
		if err := g.AddContext(c); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return fmt.Errorf("loading context %s: %w", c.ID, err)
		}
	}

	sort.Slice(assocs, func(a, b int) bool { return assocs[a].Seq < assocs[b].Seq })
	for _, ja := range assocs {
		a := ja.Association
		if err := g.AddAssociation(a.Name, a.SourceID, a.DestID); err != nil {
			if errors.Is(err, ErrInvalidAssociation) {
				j.logger.Warn("skipping dangling association", zap.Stringer("association", a))
				continue
			}
			return fmt.Errorf("loading %s: %w", a, err)
		}
	}

	for _, p := range points {
		if err := g.AddPoint(p); err != nil {
			if errors.Is(err, ErrInvalidPoint) {
				j.logger.Warn("skipping orphaned point", zap.String("point_id", string(p.ID)))
				continue
			}
			return fmt.Errorf("loading point %s: %w", p.ID, err)
		}
	}

	j.logger.Info("journal loaded",
		zap.Int("contexts", len(contexts)),
		zap.Int("associations", len(assocs)),
		zap.Int("points", len(points)))
	return nil
}

func scanPrefix(ctx context.Context, txn *badger.Txn, prefix byte, fn func(val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte{prefix}
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := it.Item().Value(fn); err != nil {
			return fmt.Errorf("decoding %x: %w", it.Item().Key(), err)
		}
	}
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Sync forces a sync of all data to disk.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrStorageClosed
	}
	return j.db.Sync()
}

// Close closes the underlying database. Close is idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

// badgerLogger routes BadgerDB's logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.s.Errorf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.s.Warnf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.s.Debugf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.s.Debugf(format, args...)
}
