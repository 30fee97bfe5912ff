package kv

import (
	"errors"
)

var (
	// ErrClosed indicates that the environment was closed
	ErrClosed = errors.New("environment was closed")
	// ErrNotFound indicates that the requested key does not exist
	ErrNotFound = errors.New("key not found")
	// ErrNoSuchDatabase indicates that the database doesn't exist. Either it hasn't been created or was dropped
	ErrNoSuchDatabase = errors.New("database does not exist")
	// ErrTxnInvalid indicates that a reset read transaction could not be renewed
	ErrTxnInvalid = errors.New("transaction could not be renewed")
	// ErrTxnDone indicates that the transaction was already committed, aborted or reset
	ErrTxnDone = errors.New("transaction is not active")
	// ErrDefaultDatabase indicates an attempt to drop the default database
	ErrDefaultDatabase = errors.New("the default database cannot be dropped")
)

// DBI is an opaque database identifier scoped to the
// environment that issued it. The default database and every
// named database resolved through an environment keep the same
// DBI for the lifetime of that environment. Using the DBI of a
// dropped database fails with ErrNoSuchDatabase until a database
// with that name is created again.
type DBI uint32

// Plugin represents a storage engine driver
type Plugin interface {
	// Name returns the name of the storage plugin
	Name() string
	// NewEnv opens an environment with the given options.
	// "path" is always required.
	NewEnv(options PluginOptions) (Env, error)
	// NewTempEnv returns an environment at a fresh temporary
	// path initialized with some sane defaults. It is meant for
	// tests that need an initialized environment without knowing
	// how to configure the plugin.
	NewTempEnv() (Env, error)
}

// Env is an open storage environment. It owns the underlying
// files and the memory map. Only one read-write transaction may be
// open at a time across the whole environment; BeginWrite blocks
// until the previous writer finishes.
type Env interface {
	// Path returns the path this environment was opened at
	Path() string
	// DefaultDatabase returns the identifier of the unnamed database
	DefaultDatabase() DBI
	// OpenDatabase resolves an existing named database in its own
	// short transaction. It returns ErrNoSuchDatabase if the database
	// does not exist. Read transactions can only use identifiers that
	// were resolved before they began or were last renewed.
	OpenDatabase(name string) (DBI, error)
	// BeginRead starts a read-only transaction that observes a
	// consistent snapshot of the environment.
	BeginRead() (ReadTxn, error)
	// BeginWrite starts a read-write transaction.
	BeginWrite() (WriteTxn, error)
	// Close closes the environment. Transactions must be
	// finished before Close is called.
	Close() error
	// Delete closes then removes the environment and all its contents.
	Delete() error
}

// Txn contains the operations shared by read-only and
// read-write transactions. A transaction must only be used
// by one goroutine at a time.
type Txn interface {
	// Get returns the value stored under key. It must observe
	// updates to that key made previously by this transaction.
	// It returns ErrNotFound if the key does not exist. The returned
	// slice is only valid until the transaction ends.
	Get(dbi DBI, key []byte) ([]byte, error)
	// Iterator returns a forward iterator over all keys of the database
	// in ascending order
	Iterator(dbi DBI) (Iterator, error)
	// Abort discards the transaction. It is safe to call more than once.
	Abort()
}

// ReadTxn is a read-only transaction that can be reset and later
// renewed, releasing its snapshot in between without giving up
// the resources needed to restart it.
type ReadTxn interface {
	Txn
	// Reset releases the snapshot held by this transaction. The
	// transaction cannot be read from until Renew succeeds.
	Reset()
	// Renew reacquires a snapshot for a reset transaction. It returns
	// an error wrapping ErrTxnInvalid if the transaction can no longer
	// be used, in which case the caller should abort it.
	Renew() error
}

// WriteTxn is a read-write transaction. Changes made inside a
// transaction are not visible to other transactions until Commit
// returns successfully.
type WriteTxn interface {
	Txn
	// OpenDatabase resolves the database with this name inside the
	// transaction. The empty name resolves to the default database.
	// If create is true the database is created if it does not exist.
	// Otherwise it must return ErrNoSuchDatabase if the database does
	// not exist. An identifier first issued by a transaction that is
	// aborted must not be used again.
	OpenDatabase(name string, create bool) (DBI, error)
	// Put upserts a key. The key must be non-empty.
	Put(dbi DBI, key, value []byte) error
	// Delete deletes a key. It returns ErrNotFound if the key
	// does not exist.
	Delete(dbi DBI, key []byte) error
	// Drop deletes a named database and all its contents. It returns
	// ErrDefaultDatabase for the default database.
	Drop(dbi DBI) error
	// Clear removes every key from the database but keeps the database.
	Clear(dbi DBI) error
	// Commit commits the transaction. Either all changes become visible
	// or none of them do.
	Commit() error
}

// Iterator iterates over a set of keys. It must only be
// used by one goroutine at a time. Consumers should not
// attempt to use an iterator once its parent transaction
// has ended.
type Iterator interface {
	// Next advances the iterator to the next key.
	// A fresh iterator must call Next once to
	// advance to the first key. Next returns false
	// if there is no next key or if it encounters an
	// error.
	Next() bool
	// Key returns the current key
	Key() []byte
	// Value returns the current value
	Value() []byte
	// Error returns the error, if any.
	Error() error
	// Close releases the iterator
	Close()
}
