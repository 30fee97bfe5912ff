package memory

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/jrife/kvgate/storage/kv"
	"github.com/jrife/kvgate/storage/kv/keys"
	"github.com/jrife/kvgate/utils/uuid"
)

const (
	DriverName = "memory"
)

func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&MemoryPlugin{},
	}
}

// MemoryPlugin provides environments that live entirely in
// memory. Nothing is persisted. The path only names the
// environment.
type MemoryPlugin struct {
}

func (plugin *MemoryPlugin) Name() string {
	return DriverName
}

func (plugin *MemoryPlugin) NewEnv(options kv.PluginOptions) (kv.Env, error) {
	path, err := options.Path()

	if err != nil {
		return nil, err
	}

	return New(path), nil
}

func (plugin *MemoryPlugin) NewTempEnv() (kv.Env, error) {
	return plugin.NewEnv(kv.PluginOptions{kv.OptionPath: uuid.TempPath("memory")})
}

func newTree() *treemap.Map {
	return treemap.NewWith(func(a, b interface{}) int {
		return keys.Compare(a.([]byte), b.([]byte))
	})
}

func cloneTree(tree *treemap.Map) *treemap.Map {
	clone := newTree()
	iter := tree.Iterator()

	for iter.Next() {
		clone.Put(iter.Key(), iter.Value())
	}

	return clone
}

// version is an immutable committed state. Write
// transactions copy a database tree the first time they
// modify it and publish a new version on commit.
type version struct {
	databases map[string]*treemap.Map
}

var _ kv.Env = (*MemoryEnv)(nil)

// MemoryEnv is an in-memory MVCC environment
type MemoryEnv struct {
	path     string
	registry *kv.Registry
	writer   sync.Mutex
	mu       sync.RWMutex
	root     *version
	closed   bool
}

// New creates an empty environment
func New(path string) *MemoryEnv {
	return &MemoryEnv{
		path:     path,
		registry: kv.NewRegistry(),
		root:     &version{databases: map[string]*treemap.Map{"": newTree()}},
	}
}

func (env *MemoryEnv) Path() string {
	return env.path
}

func (env *MemoryEnv) DefaultDatabase() kv.DBI {
	return 0
}

func (env *MemoryEnv) snapshot() (*version, error) {
	env.mu.RLock()
	defer env.mu.RUnlock()

	if env.closed {
		return nil, kv.ErrClosed
	}

	return env.root, nil
}

func (env *MemoryEnv) OpenDatabase(name string) (kv.DBI, error) {
	root, err := env.snapshot()

	if err != nil {
		return 0, err
	}

	if _, ok := root.databases[name]; !ok {
		return 0, kv.ErrNoSuchDatabase
	}

	return env.registry.DBI(name), nil
}

func (env *MemoryEnv) BeginRead() (kv.ReadTxn, error) {
	root, err := env.snapshot()

	if err != nil {
		return nil, err
	}

	return &MemoryReadTxn{MemoryTxn: MemoryTxn{env: env, databases: root.databases}}, nil
}

func (env *MemoryEnv) BeginWrite() (kv.WriteTxn, error) {
	env.writer.Lock()

	root, err := env.snapshot()

	if err != nil {
		env.writer.Unlock()

		return nil, err
	}

	databases := make(map[string]*treemap.Map, len(root.databases))

	for name, tree := range root.databases {
		databases[name] = tree
	}

	return &MemoryWriteTxn{
		MemoryTxn: MemoryTxn{env: env, databases: databases},
		dirty:     map[string]bool{},
	}, nil
}

func (env *MemoryEnv) Close() error {
	env.mu.Lock()
	defer env.mu.Unlock()

	env.closed = true

	return nil
}

func (env *MemoryEnv) Delete() error {
	if err := env.Close(); err != nil {
		return err
	}

	env.mu.Lock()
	defer env.mu.Unlock()

	env.root = &version{databases: map[string]*treemap.Map{"": newTree()}}

	return nil
}

// MemoryTxn implements the operations shared by
// read-only and read-write transactions
type MemoryTxn struct {
	env       *MemoryEnv
	databases map[string]*treemap.Map
}

func (txn *MemoryTxn) tree(dbi kv.DBI) (string, *treemap.Map, error) {
	if txn.databases == nil {
		return "", nil, kv.ErrTxnDone
	}

	name, ok := txn.env.registry.Name(dbi)

	if !ok {
		return "", nil, kv.ErrNoSuchDatabase
	}

	tree, ok := txn.databases[name]

	if !ok {
		return "", nil, kv.ErrNoSuchDatabase
	}

	return name, tree, nil
}

func (txn *MemoryTxn) Get(dbi kv.DBI, key []byte) ([]byte, error) {
	if err := keys.Validate(key, 0); err != nil {
		return nil, err
	}

	_, tree, err := txn.tree(dbi)

	if err != nil {
		return nil, err
	}

	value, ok := tree.Get([]byte(key))

	if !ok {
		return nil, kv.ErrNotFound
	}

	return value.([]byte), nil
}

func (txn *MemoryTxn) Iterator(dbi kv.DBI) (kv.Iterator, error) {
	_, tree, err := txn.tree(dbi)

	if err != nil {
		return nil, err
	}

	iter := tree.Iterator()

	return &MemoryIterator{iter: &iter}, nil
}

func (txn *MemoryTxn) Abort() {
	txn.databases = nil
}

var _ kv.ReadTxn = (*MemoryReadTxn)(nil)

type MemoryReadTxn struct {
	MemoryTxn
}

func (txn *MemoryReadTxn) Reset() {
	txn.databases = nil
}

func (txn *MemoryReadTxn) Renew() error {
	if txn.databases != nil {
		return fmt.Errorf("could not renew transaction: transaction was not reset: %w", kv.ErrTxnInvalid)
	}

	root, err := txn.env.snapshot()

	if err != nil {
		return fmt.Errorf("could not renew transaction: %s: %w", err, kv.ErrTxnInvalid)
	}

	txn.databases = root.databases

	return nil
}

var _ kv.WriteTxn = (*MemoryWriteTxn)(nil)

type MemoryWriteTxn struct {
	MemoryTxn
	dirty map[string]bool
}

func (txn *MemoryWriteTxn) OpenDatabase(name string, create bool) (kv.DBI, error) {
	if txn.databases == nil {
		return 0, kv.ErrTxnDone
	}

	if _, ok := txn.databases[name]; !ok {
		if !create {
			return 0, kv.ErrNoSuchDatabase
		}

		txn.databases[name] = newTree()
		txn.dirty[name] = true
	}

	return txn.env.registry.DBI(name), nil
}

// writable returns a tree for dbi that this transaction owns
func (txn *MemoryWriteTxn) writable(dbi kv.DBI) (*treemap.Map, error) {
	name, tree, err := txn.tree(dbi)

	if err != nil {
		return nil, err
	}

	if !txn.dirty[name] {
		tree = cloneTree(tree)
		txn.databases[name] = tree
		txn.dirty[name] = true
	}

	return tree, nil
}

func (txn *MemoryWriteTxn) Put(dbi kv.DBI, key, value []byte) error {
	if err := keys.Validate(key, 0); err != nil {
		return err
	}

	tree, err := txn.writable(dbi)

	if err != nil {
		return err
	}

	v := make([]byte, len(value))
	copy(v, value)
	tree.Put([]byte(keys.Copy(key)), v)

	return nil
}

func (txn *MemoryWriteTxn) Delete(dbi kv.DBI, key []byte) error {
	if err := keys.Validate(key, 0); err != nil {
		return err
	}

	_, tree, err := txn.tree(dbi)

	if err != nil {
		return err
	}

	if _, ok := tree.Get(key); !ok {
		return kv.ErrNotFound
	}

	if tree, err = txn.writable(dbi); err != nil {
		return err
	}

	tree.Remove(key)

	return nil
}

func (txn *MemoryWriteTxn) Drop(dbi kv.DBI) error {
	if dbi == txn.env.DefaultDatabase() {
		return kv.ErrDefaultDatabase
	}

	name, _, err := txn.tree(dbi)

	if err != nil {
		return err
	}

	delete(txn.databases, name)
	delete(txn.dirty, name)

	return nil
}

func (txn *MemoryWriteTxn) Clear(dbi kv.DBI) error {
	name, _, err := txn.tree(dbi)

	if err != nil {
		return err
	}

	txn.databases[name] = newTree()
	txn.dirty[name] = true

	return nil
}

func (txn *MemoryWriteTxn) Commit() error {
	if txn.databases == nil {
		return kv.ErrTxnDone
	}

	defer txn.env.writer.Unlock()

	txn.env.mu.Lock()
	defer txn.env.mu.Unlock()

	databases := txn.databases
	txn.databases = nil

	if txn.env.closed {
		return kv.ErrClosed
	}

	txn.env.root = &version{databases: databases}

	return nil
}

func (txn *MemoryWriteTxn) Abort() {
	if txn.databases == nil {
		return
	}

	txn.databases = nil
	txn.env.writer.Unlock()
}

var _ kv.Iterator = (*MemoryIterator)(nil)

// MemoryIterator is the iterator implementation for MemoryEnv.
// Trees are never mutated once published so the iterator
// stays valid after its transaction ends.
type MemoryIterator struct {
	iter *treemap.Iterator
}

func (iter *MemoryIterator) Next() bool {
	if iter.iter == nil {
		return false
	}

	if !iter.iter.Next() {
		iter.iter = nil

		return false
	}

	return true
}

func (iter *MemoryIterator) Key() []byte {
	if iter.iter == nil {
		return nil
	}

	return iter.iter.Key().([]byte)
}

func (iter *MemoryIterator) Value() []byte {
	if iter.iter == nil {
		return nil
	}

	return iter.iter.Value().([]byte)
}

func (iter *MemoryIterator) Error() error {
	return nil
}

func (iter *MemoryIterator) Close() {
	iter.iter = nil
}
