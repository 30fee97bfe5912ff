package bbolt

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jrife/kvgate/storage/kv"
	"github.com/jrife/kvgate/storage/kv/keys"
	"github.com/jrife/kvgate/utils/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	DriverName = "bbolt"
	// defaultMapSize is the initial mmap size. A read transaction
	// holds the mmap lock, so a writer that has to remap while a reader
	// is open on the same goroutine would block forever. Starting
	// with a large map keeps remaps rare.
	defaultMapSize = 16 << 20
)

// ErrReservedName is returned when a named database would
// collide with the bucket that holds the default database
var ErrReservedName = errors.New("database name is reserved")

// rootBucket holds the default database. Named
// databases are the other top-level buckets.
var rootBucket = []byte{0}

func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&BBoltPlugin{},
	}
}

type BBoltPlugin struct {
}

func (plugin *BBoltPlugin) Name() string {
	return DriverName
}

func (plugin *BBoltPlugin) NewEnv(options kv.PluginOptions) (kv.Env, error) {
	var config BBoltEnvConfig
	var err error

	if config.Path, err = options.Path(); err != nil {
		return nil, err
	}

	if config.Mode, err = options.Mode(); err != nil {
		return nil, err
	}

	if config.Timeout, err = options.Duration(kv.OptionTimeout, time.Second); err != nil {
		return nil, err
	}

	if config.NoSync, err = options.Bool(kv.OptionNoSync); err != nil {
		return nil, err
	}

	mapSize, err := options.Int(kv.OptionMapSize, defaultMapSize)

	if err != nil {
		return nil, err
	}

	config.MapSize = int(mapSize)

	env, err := New(config)

	if err != nil {
		return nil, err
	}

	return env, nil
}

func (plugin *BBoltPlugin) NewTempEnv() (kv.Env, error) {
	return plugin.NewEnv(kv.PluginOptions{
		kv.OptionPath:   uuid.TempPath("bbolt"),
		kv.OptionNoSync: true,
	})
}

type BBoltEnvConfig struct {
	Path    string
	Mode    os.FileMode
	Timeout time.Duration
	NoSync  bool
	MapSize int
}

var _ kv.Env = (*BBoltEnv)(nil)

func New(config BBoltEnvConfig) (*BBoltEnv, error) {
	if config.Mode == 0 {
		config.Mode = kv.DefaultMode
	}

	if config.MapSize == 0 {
		config.MapSize = defaultMapSize
	}

	db, err := bolt.Open(config.Path, config.Mode, &bolt.Options{
		Timeout:         config.Timeout,
		NoSync:          config.NoSync,
		InitialMmapSize: config.MapSize,
	})

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %w", config.Path, err)
	}

	if err := db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists(rootBucket)

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("could not ensure root bucket exists: %w", err)
	}

	return &BBoltEnv{db: db, registry: kv.NewRegistry()}, nil
}

type BBoltEnv struct {
	db       *bolt.DB
	registry *kv.Registry
}

func (env *BBoltEnv) Path() string {
	return env.db.Path()
}

func (env *BBoltEnv) DefaultDatabase() kv.DBI {
	return 0
}

func (env *BBoltEnv) OpenDatabase(name string) (kv.DBI, error) {
	if name == "" {
		return env.DefaultDatabase(), nil
	}

	if name == string(rootBucket) {
		return 0, ErrReservedName
	}

	transaction, err := env.begin(false)

	if err != nil {
		return 0, err
	}

	defer transaction.Rollback()

	if transaction.Bucket([]byte(name)) == nil {
		return 0, kv.ErrNoSuchDatabase
	}

	return env.registry.DBI(name), nil
}

func (env *BBoltEnv) BeginRead() (kv.ReadTxn, error) {
	transaction, err := env.begin(false)

	if err != nil {
		return nil, err
	}

	return &BBoltReadTxn{BBoltTxn: BBoltTxn{env: env, transaction: transaction}}, nil
}

func (env *BBoltEnv) BeginWrite() (kv.WriteTxn, error) {
	transaction, err := env.begin(true)

	if err != nil {
		return nil, err
	}

	return &BBoltWriteTxn{BBoltTxn: BBoltTxn{env: env, transaction: transaction}}, nil
}

func (env *BBoltEnv) begin(writable bool) (*bolt.Tx, error) {
	transaction, err := env.db.Begin(writable)

	if err == bolt.ErrDatabaseNotOpen {
		return nil, kv.ErrClosed
	} else if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}

	return transaction, nil
}

func (env *BBoltEnv) Close() error {
	return env.db.Close()
}

func (env *BBoltEnv) Delete() error {
	path := env.db.Path()

	if err := env.Close(); err != nil {
		return fmt.Errorf("could not close store: %w", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("could not remove path %s: %w", path, err)
	}

	return nil
}

// BBoltTxn implements the operations shared by
// read-only and read-write transactions
type BBoltTxn struct {
	env         *BBoltEnv
	transaction *bolt.Tx
}

func (txn *BBoltTxn) bucketName(dbi kv.DBI) ([]byte, error) {
	name, ok := txn.env.registry.Name(dbi)

	if !ok {
		return nil, kv.ErrNoSuchDatabase
	}

	if name == "" {
		return rootBucket, nil
	}

	return []byte(name), nil
}

func (txn *BBoltTxn) bucket(dbi kv.DBI) (*bolt.Bucket, error) {
	if txn.transaction == nil {
		return nil, kv.ErrTxnDone
	}

	name, err := txn.bucketName(dbi)

	if err != nil {
		return nil, err
	}

	bucket := txn.transaction.Bucket(name)

	if bucket == nil {
		return nil, kv.ErrNoSuchDatabase
	}

	return bucket, nil
}

func (txn *BBoltTxn) Get(dbi kv.DBI, key []byte) ([]byte, error) {
	if err := keys.Validate(key, bolt.MaxKeySize); err != nil {
		return nil, err
	}

	bucket, err := txn.bucket(dbi)

	if err != nil {
		return nil, err
	}

	value := bucket.Get(key)

	if value == nil {
		return nil, kv.ErrNotFound
	}

	return value, nil
}

func (txn *BBoltTxn) Iterator(dbi kv.DBI) (kv.Iterator, error) {
	bucket, err := txn.bucket(dbi)

	if err != nil {
		return nil, err
	}

	return &BBoltIterator{cursor: bucket.Cursor()}, nil
}

func (txn *BBoltTxn) Abort() {
	if txn.transaction == nil {
		return
	}

	txn.transaction.Rollback()
	txn.transaction = nil
}

var _ kv.ReadTxn = (*BBoltReadTxn)(nil)

// BBoltReadTxn is a read-only transaction. bbolt has
// no native reset/renew so a reset rolls back the
// underlying transaction and a renew begins a new one.
type BBoltReadTxn struct {
	BBoltTxn
}

func (txn *BBoltReadTxn) Reset() {
	txn.Abort()
}

func (txn *BBoltReadTxn) Renew() error {
	if txn.transaction != nil {
		return fmt.Errorf("could not renew transaction: transaction was not reset: %w", kv.ErrTxnInvalid)
	}

	transaction, err := txn.env.begin(false)

	if err != nil {
		return fmt.Errorf("could not renew transaction: %s: %w", err, kv.ErrTxnInvalid)
	}

	txn.transaction = transaction

	return nil
}

var _ kv.WriteTxn = (*BBoltWriteTxn)(nil)

type BBoltWriteTxn struct {
	BBoltTxn
}

func (txn *BBoltWriteTxn) OpenDatabase(name string, create bool) (kv.DBI, error) {
	if txn.transaction == nil {
		return 0, kv.ErrTxnDone
	}

	if name == "" {
		return txn.env.DefaultDatabase(), nil
	}

	if name == string(rootBucket) {
		return 0, ErrReservedName
	}

	if create {
		if _, err := txn.transaction.CreateBucketIfNotExists([]byte(name)); err != nil {
			return 0, fmt.Errorf("could not create database %s: %w", name, err)
		}
	} else if txn.transaction.Bucket([]byte(name)) == nil {
		return 0, kv.ErrNoSuchDatabase
	}

	return txn.env.registry.DBI(name), nil
}

func (txn *BBoltWriteTxn) Put(dbi kv.DBI, key, value []byte) error {
	if err := keys.Validate(key, bolt.MaxKeySize); err != nil {
		return err
	}

	bucket, err := txn.bucket(dbi)

	if err != nil {
		return err
	}

	if value == nil {
		value = []byte{}
	}

	return bucket.Put(key, value)
}

func (txn *BBoltWriteTxn) Delete(dbi kv.DBI, key []byte) error {
	if err := keys.Validate(key, bolt.MaxKeySize); err != nil {
		return err
	}

	bucket, err := txn.bucket(dbi)

	if err != nil {
		return err
	}

	if bucket.Get(key) == nil {
		return kv.ErrNotFound
	}

	return bucket.Delete(key)
}

func (txn *BBoltWriteTxn) Drop(dbi kv.DBI) error {
	if dbi == txn.env.DefaultDatabase() {
		return kv.ErrDefaultDatabase
	}

	if _, err := txn.bucket(dbi); err != nil {
		return err
	}

	name, _ := txn.bucketName(dbi)

	return txn.transaction.DeleteBucket(name)
}

func (txn *BBoltWriteTxn) Clear(dbi kv.DBI) error {
	if _, err := txn.bucket(dbi); err != nil {
		return err
	}

	name, _ := txn.bucketName(dbi)

	if err := txn.transaction.DeleteBucket(name); err != nil {
		return fmt.Errorf("could not delete bucket %v: %w", name, err)
	}

	if _, err := txn.transaction.CreateBucket(name); err != nil {
		return fmt.Errorf("could not recreate bucket %v: %w", name, err)
	}

	return nil
}

func (txn *BBoltWriteTxn) Commit() error {
	if txn.transaction == nil {
		return kv.ErrTxnDone
	}

	err := txn.transaction.Commit()
	txn.transaction = nil

	return err
}

var _ kv.Iterator = (*BBoltIterator)(nil)

type BBoltIterator struct {
	cursor  *bolt.Cursor
	started bool
	key     []byte
	value   []byte
}

func (iter *BBoltIterator) Next() bool {
	if iter.cursor == nil {
		return false
	}

	var k, v []byte

	if !iter.started {
		iter.started = true
		k, v = iter.cursor.First()
	} else {
		k, v = iter.cursor.Next()
	}

	// nested buckets have nil values
	for k != nil && v == nil {
		k, v = iter.cursor.Next()
	}

	if k == nil {
		iter.cursor = nil
		iter.key, iter.value = nil, nil

		return false
	}

	iter.key, iter.value = k, v

	return true
}

func (iter *BBoltIterator) Key() []byte {
	return iter.key
}

func (iter *BBoltIterator) Value() []byte {
	return iter.value
}

func (iter *BBoltIterator) Error() error {
	return nil
}

func (iter *BBoltIterator) Close() {
	iter.cursor = nil
}
