package transcript

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	leveldberrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// LevelDB holds a transcript name and its leveldb instance
type LevelDB struct {
	Name     string
	database *leveldb.DB
}

// NewLevelDB instantiates and opens a new LevelDB transcript backed by a leveldb
// database. If the leveldb database doesn't exist, one is created
func NewLevelDB(name string, storagePath string) (ldb *LevelDB, err error) {
	// Expand '~' as the full home directory path if appropriate
	path, err := homedir.Expand(storagePath)
	if err != nil {
		return nil, err
	}

	fullPath := filepath.Join(path, name)
	db, err := leveldb.OpenFile(fullPath, nil)

	if _, ok := err.(*leveldberrors.ErrCorrupted); ok {
		return nil, errors.Wrap(err, fmt.Sprintf("leveldb corrupted. Consider deleting [%s] and restarting if you don't mind losing data", fullPath))
	} else if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to open file with path [%s]", fullPath))
	}

	return &LevelDB{name, db}, nil
}

// Record appends an entry, keyed by its sequence number so iteration order matches
// conversation order
func (ldb *LevelDB) Record(entry Entry) (err error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrapf(err, "failed to encode transcript entry [%d]", entry.Seq)
	}

	return ldb.database.Put([]byte(key(entry.Seq)), value, nil)
}

// Entries returns the complete transcript in sequence order
func (ldb *LevelDB) Entries() (entries []Entry, err error) {
	entries = []Entry{}
	iter := ldb.database.NewIterator(nil, nil)
	for iter.Next() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			iter.Release()
			return nil, errors.Wrapf(err, "corrupted transcript entry at key [%s]", string(iter.Key()))
		}

		entries = append(entries, entry)
	}

	iter.Release()
	if err = iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i int, j int) bool { return entries[i].Seq < entries[j].Seq })

	return entries, nil
}

// Close closes the LevelDB
func (ldb *LevelDB) Close() (err error) {
	return ldb.database.Close()
}

// key renders a sequence number fixed-width so lexical key order matches numeric order
func key(seq int64) (k string) {
	return fmt.Sprintf("%020d", seq)
}
