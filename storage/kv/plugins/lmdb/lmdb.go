//go:build cgo

package lmdb

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/jrife/kvgate/storage/kv"
	"github.com/jrife/kvgate/storage/kv/keys"
	"github.com/jrife/kvgate/utils/uuid"
)

const (
	DriverName = "lmdb"

	// defaults match the LMDB library defaults except for
	// the map size which LMDB sets to 10MB
	defaultMapSize      = 1 << 30
	defaultMaxDatabases = 128
	defaultMaxReaders   = 126
	// maxKeySize is the compile-time default of MDB_MAXKEYSIZE
	maxKeySize = 511
)

func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&LMDBPlugin{},
	}
}

type LMDBPlugin struct {
}

func (plugin *LMDBPlugin) Name() string {
	return DriverName
}

func (plugin *LMDBPlugin) NewEnv(options kv.PluginOptions) (kv.Env, error) {
	var config LMDBEnvConfig
	var err error

	if config.Path, err = options.Path(); err != nil {
		return nil, err
	}

	if config.Mode, err = options.Mode(); err != nil {
		return nil, err
	}

	if config.MapSize, err = options.Int(kv.OptionMapSize, defaultMapSize); err != nil {
		return nil, err
	}

	maxDatabases, err := options.Int(kv.OptionMaxDatabases, defaultMaxDatabases)

	if err != nil {
		return nil, err
	}

	maxReaders, err := options.Int(kv.OptionMaxReaders, defaultMaxReaders)

	if err != nil {
		return nil, err
	}

	if config.NoSync, err = options.Bool(kv.OptionNoSync); err != nil {
		return nil, err
	}

	config.MaxDatabases = int(maxDatabases)
	config.MaxReaders = int(maxReaders)

	env, err := New(config)

	if err != nil {
		return nil, err
	}

	return env, nil
}

func (plugin *LMDBPlugin) NewTempEnv() (kv.Env, error) {
	return plugin.NewEnv(kv.PluginOptions{
		kv.OptionPath:    uuid.TempPath("lmdb"),
		kv.OptionMapSize: 64 << 20,
		kv.OptionNoSync:  true,
	})
}

type LMDBEnvConfig struct {
	Path         string
	Mode         os.FileMode
	MapSize      int64
	MaxDatabases int
	MaxReaders   int
	NoSync       bool
}

var _ kv.Env = (*LMDBEnv)(nil)

// New opens an LMDB environment. Path is a directory
// which is created if it does not exist.
func New(config LMDBEnvConfig) (*LMDBEnv, error) {
	if config.Mode == 0 {
		config.Mode = kv.DefaultMode
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("could not create environment directory %s: %w", config.Path, err)
	}

	env, err := lmdb.NewEnv()

	if err != nil {
		return nil, fmt.Errorf("could not create environment: %w", err)
	}

	if err := configure(env, config); err != nil {
		env.Close()

		return nil, err
	}

	// NoTLS ties reader slots to transactions instead of threads
	// so a reset transaction can be renewed from any goroutine.
	flags := uint(lmdb.NoTLS)

	if config.NoSync {
		flags |= lmdb.NoSync
	}

	if err := env.Open(config.Path, flags, config.Mode); err != nil {
		env.Close()

		return nil, fmt.Errorf("could not open lmdb environment at %s: %w", config.Path, err)
	}

	var root lmdb.DBI

	if err := env.View(func(txn *lmdb.Txn) (err error) {
		root, err = txn.OpenRoot(0)

		return err
	}); err != nil {
		env.Close()

		return nil, fmt.Errorf("could not open root database: %w", err)
	}

	return &LMDBEnv{
		env:      env,
		path:     config.Path,
		registry: kv.NewRegistry(),
		natives:  map[kv.DBI]lmdb.DBI{0: root},
	}, nil
}

func configure(env *lmdb.Env, config LMDBEnvConfig) error {
	if config.MaxDatabases > 0 {
		if err := env.SetMaxDBs(config.MaxDatabases); err != nil {
			return fmt.Errorf("could not set max databases: %w", err)
		}
	}

	if config.MaxReaders > 0 {
		if err := env.SetMaxReaders(config.MaxReaders); err != nil {
			return fmt.Errorf("could not set max readers: %w", err)
		}
	}

	if config.MapSize > 0 {
		if err := env.SetMapSize(config.MapSize); err != nil {
			return fmt.Errorf("could not set map size: %w", err)
		}
	}

	return nil
}

// LMDBEnv issues registry DBIs rather than native LMDB handles.
// LMDB reuses the slot of a dropped database for the next one
// created, so a native handle held across a drop could name an
// unrelated database. natives maps each registry DBI to the native
// handle of the database currently carrying that name. Dropping a
// database removes its entry.
type LMDBEnv struct {
	env      *lmdb.Env
	path     string
	registry *kv.Registry

	mu      sync.Mutex
	natives map[kv.DBI]lmdb.DBI
}

func (env *LMDBEnv) Path() string {
	return env.path
}

func (env *LMDBEnv) DefaultDatabase() kv.DBI {
	return 0
}

func (env *LMDBEnv) native(dbi kv.DBI) (lmdb.DBI, bool) {
	env.mu.Lock()
	defer env.mu.Unlock()

	native, ok := env.natives[dbi]

	return native, ok
}

func (env *LMDBEnv) publish(dbi kv.DBI, native lmdb.DBI) {
	env.mu.Lock()
	defer env.mu.Unlock()

	env.natives[dbi] = native
}

func (env *LMDBEnv) unpublish(dbi kv.DBI) {
	env.mu.Lock()
	defer env.mu.Unlock()

	delete(env.natives, dbi)
}

// OpenDatabase opens a named database in a separate short transaction
// whose commit makes the handle valid for the lifetime of the
// environment. Handles opened by a read-only transaction that is
// reset rather than committed are released by LMDB.
func (env *LMDBEnv) OpenDatabase(name string) (kv.DBI, error) {
	if name == "" {
		return 0, nil
	}

	var native lmdb.DBI

	err := env.env.View(func(txn *lmdb.Txn) (err error) {
		native, err = txn.OpenDBI(name, 0)

		return err
	})

	if lmdb.IsNotFound(err) {
		return 0, kv.ErrNoSuchDatabase
	} else if err != nil {
		return 0, fmt.Errorf("could not open database %s: %w", name, err)
	}

	dbi := env.registry.DBI(name)
	env.publish(dbi, native)

	return dbi, nil
}

func (env *LMDBEnv) BeginRead() (kv.ReadTxn, error) {
	txn, err := env.env.BeginTxn(nil, lmdb.Readonly)

	if err != nil {
		return nil, wrapError("could not begin transaction", err)
	}

	return &LMDBReadTxn{LMDBTxn: LMDBTxn{env: env, txn: txn}}, nil
}

func (env *LMDBEnv) BeginWrite() (kv.WriteTxn, error) {
	// write transactions must stay on the thread that began them
	runtime.LockOSThread()

	txn, err := env.env.BeginTxn(nil, 0)

	if err != nil {
		runtime.UnlockOSThread()

		return nil, wrapError("could not begin transaction", err)
	}

	return &LMDBWriteTxn{LMDBTxn: LMDBTxn{env: env, txn: txn, opened: map[kv.DBI]lmdb.DBI{}}}, nil
}

func (env *LMDBEnv) Close() error {
	return env.env.Close()
}

func (env *LMDBEnv) Delete() error {
	if err := env.Close(); err != nil {
		return fmt.Errorf("could not close environment: %w", err)
	}

	if err := os.RemoveAll(env.path); err != nil {
		return fmt.Errorf("could not remove path %s: %w", env.path, err)
	}

	return nil
}

func wrapError(wrap string, err error) error {
	switch {
	case err == nil:
		return nil
	case lmdb.IsNotFound(err):
		return kv.ErrNotFound
	case lmdb.IsErrno(err, lmdb.BadDBI):
		return kv.ErrNoSuchDatabase
	}

	return fmt.Errorf("%s: %w", wrap, err)
}

// LMDBTxn implements the operations shared by
// read-only and read-write transactions
type LMDBTxn struct {
	env  *LMDBEnv
	txn  *lmdb.Txn
	done bool
	// opened holds handles a write transaction opened or created.
	// They become visible to the environment when it commits.
	opened map[kv.DBI]lmdb.DBI
}

func (txn *LMDBTxn) native(dbi kv.DBI) (lmdb.DBI, error) {
	if native, ok := txn.opened[dbi]; ok {
		return native, nil
	}

	if native, ok := txn.env.native(dbi); ok {
		return native, nil
	}

	return 0, kv.ErrNoSuchDatabase
}

func (txn *LMDBTxn) active() error {
	if txn.txn == nil || txn.done {
		return kv.ErrTxnDone
	}

	return nil
}

func (txn *LMDBTxn) Get(dbi kv.DBI, key []byte) ([]byte, error) {
	if err := keys.Validate(key, maxKeySize); err != nil {
		return nil, err
	}

	if err := txn.active(); err != nil {
		return nil, err
	}

	native, err := txn.native(dbi)

	if err != nil {
		return nil, err
	}

	value, err := txn.txn.Get(native, key)

	if err != nil {
		return nil, wrapError("could not get key", err)
	}

	return value, nil
}

func (txn *LMDBTxn) Iterator(dbi kv.DBI) (kv.Iterator, error) {
	if err := txn.active(); err != nil {
		return nil, err
	}

	native, err := txn.native(dbi)

	if err != nil {
		return nil, err
	}

	cursor, err := txn.txn.OpenCursor(native)

	if err != nil {
		return nil, wrapError("could not open cursor", err)
	}

	return &LMDBIterator{cursor: cursor, op: lmdb.First}, nil
}

func (txn *LMDBTxn) Abort() {
	if txn.txn == nil {
		return
	}

	txn.txn.Abort()
	txn.txn = nil
}

var _ kv.ReadTxn = (*LMDBReadTxn)(nil)

type LMDBReadTxn struct {
	LMDBTxn
}

func (txn *LMDBReadTxn) Reset() {
	if txn.txn == nil {
		return
	}

	txn.txn.Reset()
	txn.done = true
}

func (txn *LMDBReadTxn) Renew() error {
	if txn.txn == nil {
		return fmt.Errorf("could not renew transaction: transaction was aborted: %w", kv.ErrTxnInvalid)
	}

	if err := txn.txn.Renew(); err != nil {
		return fmt.Errorf("could not renew transaction: %s: %w", err, kv.ErrTxnInvalid)
	}

	txn.done = false

	return nil
}

var _ kv.WriteTxn = (*LMDBWriteTxn)(nil)

type LMDBWriteTxn struct {
	LMDBTxn
}

func (txn *LMDBWriteTxn) OpenDatabase(name string, create bool) (kv.DBI, error) {
	if err := txn.active(); err != nil {
		return 0, err
	}

	if name == "" {
		return 0, nil
	}

	var native lmdb.DBI
	var err error

	if create {
		native, err = txn.txn.CreateDBI(name)
	} else {
		native, err = txn.txn.OpenDBI(name, 0)
	}

	if lmdb.IsNotFound(err) {
		return 0, kv.ErrNoSuchDatabase
	} else if err != nil {
		return 0, fmt.Errorf("could not open database %s: %w", name, err)
	}

	dbi := txn.env.registry.DBI(name)
	txn.opened[dbi] = native

	return dbi, nil
}

func (txn *LMDBWriteTxn) Put(dbi kv.DBI, key, value []byte) error {
	if err := keys.Validate(key, maxKeySize); err != nil {
		return err
	}

	if err := txn.active(); err != nil {
		return err
	}

	native, err := txn.native(dbi)

	if err != nil {
		return err
	}

	return wrapError("could not put key", txn.txn.Put(native, key, value, 0))
}

func (txn *LMDBWriteTxn) Delete(dbi kv.DBI, key []byte) error {
	if err := keys.Validate(key, maxKeySize); err != nil {
		return err
	}

	if err := txn.active(); err != nil {
		return err
	}

	native, err := txn.native(dbi)

	if err != nil {
		return err
	}

	return wrapError("could not delete key", txn.txn.Del(native, key, nil))
}

func (txn *LMDBWriteTxn) Drop(dbi kv.DBI) error {
	if dbi == 0 {
		return kv.ErrDefaultDatabase
	}

	if err := txn.active(); err != nil {
		return err
	}

	native, err := txn.native(dbi)

	if err != nil {
		return err
	}

	if err := txn.txn.Drop(native, true); err != nil {
		return wrapError("could not drop database", err)
	}

	// LMDB closes the handle as soon as the drop succeeds,
	// whether or not this transaction commits
	delete(txn.opened, dbi)
	txn.env.unpublish(dbi)

	return nil
}

func (txn *LMDBWriteTxn) Clear(dbi kv.DBI) error {
	if err := txn.active(); err != nil {
		return err
	}

	native, err := txn.native(dbi)

	if err != nil {
		return err
	}

	return wrapError("could not clear database", txn.txn.Drop(native, false))
}

func (txn *LMDBWriteTxn) Commit() error {
	if err := txn.active(); err != nil {
		return err
	}

	defer runtime.UnlockOSThread()

	err := txn.txn.Commit()
	txn.txn = nil

	if err != nil {
		return wrapError("could not commit transaction", err)
	}

	for dbi, native := range txn.opened {
		txn.env.publish(dbi, native)
	}

	return nil
}

func (txn *LMDBWriteTxn) Abort() {
	if txn.txn == nil {
		return
	}

	txn.LMDBTxn.Abort()
	runtime.UnlockOSThread()
}

var _ kv.Iterator = (*LMDBIterator)(nil)

type LMDBIterator struct {
	cursor *lmdb.Cursor
	op     uint
	key    []byte
	value  []byte
	err    error
}

func (iter *LMDBIterator) Next() bool {
	if iter.cursor == nil {
		return false
	}

	k, v, err := iter.cursor.Get(nil, nil, iter.op)
	iter.op = lmdb.Next

	if err != nil {
		if !lmdb.IsNotFound(err) {
			iter.err = wrapError("could not advance cursor", err)
		}

		iter.Close()
		iter.key, iter.value = nil, nil

		return false
	}

	iter.key, iter.value = k, v

	return true
}

func (iter *LMDBIterator) Key() []byte {
	return iter.key
}

func (iter *LMDBIterator) Value() []byte {
	return iter.value
}

func (iter *LMDBIterator) Error() error {
	return iter.err
}

func (iter *LMDBIterator) Close() {
	if iter.cursor == nil {
		return
	}

	iter.cursor.Close()
	iter.cursor = nil
}
