package db

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/jamjamfong/lstore/bufferpool"
	"github.com/jamjamfong/lstore/pagestore"
	"github.com/jamjamfong/lstore/table"
)

const (
	catalogFile = "catalog"
	metaSuffix  = ".meta"
)

var (
	ErrExists   = errors.New("db: table already exists")
	ErrNotExist = errors.New("db: table does not exist")
	ErrName     = errors.New("db: bad table name")
)

type Config struct {
	Store          string
	PoolPages      int
	MergeThreshold int
	MergeQueue     int
	Logger         *log.Logger
}

func DefaultConfig() Config {
	return Config{
		Store:          "file",
		PoolPages:      1024,
		MergeThreshold: table.DefaultMergeThreshold,
		MergeQueue:     64,
	}
}

// Database is a directory of tables sharing one buffer pool and one merge
// worker.
type Database struct {
	mutex  sync.Mutex
	dir    string
	cfg    Config
	st     pagestore.Store
	bp     *bufferpool.BufferPool
	merger *table.Merger
	tables map[string]*table.Table
}

// Open loads every table listed in the catalog of dir; a missing catalog is an
// empty database.
func Open(dir string, cfg Config) (*Database, error) {
	def := DefaultConfig()
	if cfg.Store == "" {
		cfg.Store = def.Store
	}
	if cfg.PoolPages <= 0 {
		cfg.PoolPages = def.PoolPages
	}
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = def.MergeThreshold
	}
	if cfg.MergeQueue <= 0 {
		cfg.MergeQueue = def.MergeQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}
	st, err := pagestore.Open(cfg.Store, dir, cfg.Logger)
	if err != nil {
		return nil, err
	}

	db := &Database{
		dir:    dir,
		cfg:    cfg,
		st:     st,
		bp:     bufferpool.New(cfg.PoolPages, st),
		merger: table.NewMerger(cfg.MergeQueue),
		tables: map[string]*table.Table{},
	}
	err = db.load()
	if err != nil {
		db.merger.Close()
		st.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"dir":    dir,
		"store":  cfg.Store,
		"tables": len(db.tables),
	}).Info("db: open")
	return db, nil
}

func (db *Database) persistent() bool {
	return db.cfg.Store != "memory"
}

func (db *Database) options() []table.Option {
	return []table.Option{
		table.WithMerger(db.merger),
		table.WithMergeThreshold(db.cfg.MergeThreshold),
	}
}

func (db *Database) load() error {
	if !db.persistent() {
		return nil
	}

	buf, err := ioutil.ReadFile(filepath.Join(db.dir, catalogFile))
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	names, err := decodeCatalog(buf)
	if err != nil {
		return fmt.Errorf("db: %s: %w", catalogFile, err)
	}

	for _, name := range names {
		buf, err := ioutil.ReadFile(db.metaPath(name))
		if err != nil {
			return err
		}
		md, err := decodeMeta(buf)
		if err != nil {
			return fmt.Errorf("db: table %s: %w", name, err)
		}
		if md.Name != name {
			return fmt.Errorf("db: table %s: metadata is for table %s", name, md.Name)
		}
		tbl, err := table.Load(md, db.bp, db.options()...)
		if err != nil {
			return err
		}
		db.tables[name] = tbl

		log.WithFields(log.Fields{
			"table":   name,
			"records": len(md.Directory),
		}).Debug("db: table loaded")
	}
	return nil
}

func (db *Database) metaPath(name string) string {
	return filepath.Join(db.dir, name+metaSuffix)
}

// writeFile replaces the file at path with buf by way of a temporary file so
// that a reader sees either the old or the new contents.
func writeFile(path string, buf []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = f.Write(buf)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (db *Database) writeCatalog() error {
	if !db.persistent() {
		return nil
	}
	return writeFile(filepath.Join(db.dir, catalogFile), encodeCatalog(db.names()))
}

func (db *Database) writeMeta(tbl *table.Table) error {
	if !db.persistent() {
		return nil
	}
	return writeFile(db.metaPath(tbl.Name()), encodeMeta(tbl.Meta()))
}

func (db *Database) names() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkName(name string) error {
	if name == "" || name == catalogFile || strings.ContainsAny(name, "/\\\x00") ||
		strings.HasPrefix(name, ".") {

		return fmt.Errorf("%w: %q", ErrName, name)
	}
	return nil
}

// CreateTable returns the existing table if one with the same shape is already
// called name.
func (db *Database) CreateTable(name string, columns, key int) (*table.Table, error) {
	err := checkName(name)
	if err != nil {
		return nil, err
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	if tbl, ok := db.tables[name]; ok {
		if tbl.Columns() != columns || tbl.Key() != key {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return tbl, nil
	}

	tbl, err := table.New(name, columns, key, db.bp, db.options()...)
	if err != nil {
		return nil, err
	}
	db.tables[name] = tbl
	err = db.writeMeta(tbl)
	if err == nil {
		err = db.writeCatalog()
	}
	if err != nil {
		delete(db.tables, name)
		return nil, err
	}

	log.WithFields(log.Fields{
		"table":   name,
		"columns": columns,
		"key":     key,
	}).Info("db: create table")
	return tbl, nil
}

func (db *Database) GetTable(name string) (*table.Table, bool) {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	tbl, ok := db.tables[name]
	return tbl, ok
}

func (db *Database) DropTable(name string) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	tbl, ok := db.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	tbl.Drop()
	err := db.bp.DropTable(name)
	if err != nil {
		return err
	}
	delete(db.tables, name)
	err = db.writeCatalog()
	if err != nil {
		return err
	}
	err = db.st.Drop(name)
	if err != nil {
		return err
	}
	if db.persistent() {
		err = os.Remove(db.metaPath(name))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	log.WithField("table", name).Info("db: drop table")
	return nil
}

func (db *Database) Tables() []string {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	return db.names()
}

func (db *Database) BufferPool() *bufferpool.BufferPool {
	return db.bp
}

// Flush writes every dirty page and the metadata of every table.
func (db *Database) Flush() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	return db.flush()
}

// FlushTable writes the dirty pages and the metadata of one table.
func (db *Database) FlushTable(name string) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	tbl, ok := db.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	err := db.bp.FlushTable(name)
	if err != nil {
		return err
	}
	return db.writeMeta(tbl)
}

func (db *Database) flush() error {
	err := db.bp.FlushAll()
	if err != nil {
		return err
	}
	for _, name := range db.names() {
		err = db.writeMeta(db.tables[name])
		if err != nil {
			return err
		}
	}
	return db.writeCatalog()
}

// Close waits for pending merges, then flushes and closes the store.
func (db *Database) Close() error {
	db.merger.Close()

	db.mutex.Lock()
	defer db.mutex.Unlock()

	err := db.flush()
	if err != nil {
		return err
	}
	err = db.bp.Close()
	if err != nil {
		return err
	}

	log.WithField("dir", db.dir).Info("db: close")
	return nil
}
