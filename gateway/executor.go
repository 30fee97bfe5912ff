package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrife/kvgate/storage/kv"
	"go.uber.org/zap"
)

// OpCode selects what an Operation does
type OpCode int

const (
	// OpGet looks up Key and copies its value into Value
	OpGet OpCode = iota
	// OpSet stores Value under Key. A nil Value deletes Key.
	OpSet
	// OpCreateDatabase creates the named database if it does not exist
	OpCreateDatabase
	// OpDropDatabase deletes the named database and its contents
	OpDropDatabase
	// OpClearDatabase removes every key from the database
	OpClearDatabase
)

func (code OpCode) String() string {
	switch code {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpCreateDatabase:
		return "create_database"
	case OpDropDatabase:
		return "drop_database"
	case OpClearDatabase:
		return "clear_database"
	}

	return fmt.Sprintf("op(%d)", int(code))
}

// Operation is one entry of a batch. Database names the database the
// operation targets. The empty name is the default database.
//
// For OpGet, Value is the caller's output region. ValueLen is set to
// the length of the stored value even when Value is too small to
// hold it, in which case nothing is copied and FlagAgain is set.
type Operation struct {
	Code     OpCode
	Database string
	Key      []byte
	Value    []byte
	ValueLen int
	Flags    ResultFlags
}

func (op *Operation) validate(write bool) error {
	switch op.Code {
	case OpGet:
	case OpSet:
		if !write {
			return fmt.Errorf("%s: %w", op.Code, ErrReadOnlyBatch)
		}
	case OpCreateDatabase, OpDropDatabase:
		if !write {
			return fmt.Errorf("%s: %w", op.Code, ErrReadOnlyBatch)
		}

		if op.Database == "" {
			return fmt.Errorf("%s: %w", op.Code, ErrDefaultDatabase)
		}

		return nil
	case OpClearDatabase:
		if !write {
			return fmt.Errorf("%s: %w", op.Code, ErrReadOnlyBatch)
		}

		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOperation, op.Code)
	}

	if len(op.Key) == 0 {
		return fmt.Errorf("%s: %w", op.Code, ErrKeyRequired)
	}

	return nil
}

// Execute runs ops in order inside one transaction. A write batch is
// committed only if every operation succeeds. A read batch may only
// contain OpGet operations. Execute returns StatusAgain if any Get
// could not fit its value. The writes of a write batch are committed
// even then.
func (handle *Handle) Execute(ctx context.Context, ops []Operation, write bool) Status {
	return handle.execute(ctx, "execute", ops, write)
}

// CreateDatabase creates a named database. Creating a database
// that already exists succeeds.
func (handle *Handle) CreateDatabase(ctx context.Context, name string) Status {
	return handle.execute(ctx, "create_database", []Operation{{Code: OpCreateDatabase, Database: name}}, true)
}

// DropDatabase deletes a named database and everything in it
func (handle *Handle) DropDatabase(ctx context.Context, name string) Status {
	return handle.execute(ctx, "drop_database", []Operation{{Code: OpDropDatabase, Database: name}}, true)
}

// ClearDatabase removes every key from a database. The empty name
// clears the default database.
func (handle *Handle) ClearDatabase(ctx context.Context, name string) Status {
	return handle.execute(ctx, "clear_database", []Operation{{Code: OpClearDatabase, Database: name}}, true)
}

func (handle *Handle) execute(ctx context.Context, name string, ops []Operation, write bool) Status {
	c := handle.begin(ctx, name)

	if err := c.checkOpen(); err != nil {
		return c.fail(err)
	}

	for i := range ops {
		ops[i].Flags = 0
	}

	for i := range ops {
		if err := ops[i].validate(write); err != nil {
			return c.fail(fmt.Errorf("operation %d: %w", i, err))
		}
	}

	var again bool
	var err error

	if write {
		again, err = c.executeWrite(ops)
	} else {
		again, err = c.executeRead(ops)
	}

	if err != nil {
		return c.fail(err)
	}

	if again {
		return c.again()
	}

	return c.done(StatusOK)
}

func (c *call) executeRead(ops []Operation) (bool, error) {
	// read transactions only see databases resolved before they begin
	dbis := make([]kv.DBI, len(ops))

	for i := range ops {
		dbi, err := c.resolve(nil, ops[i].Database, false)

		if err != nil {
			return false, fmt.Errorf("operation %d: %w", i, err)
		}

		dbis[i] = dbi
	}

	txn, err := c.acquireRead()

	if err != nil {
		return false, err
	}

	again := false

	for i := range ops {
		op := &ops[i]
		op.Flags = 0
		c.handle.metrics.operation(op.Code)

		if err := c.get(txn, dbis[i], op); err != nil {
			txn.Abort()

			return false, fmt.Errorf("operation %d: %w", i, err)
		}

		again = again || op.Flags.Has(FlagAgain)
	}

	c.suspend(txn)

	return again, nil
}

func (c *call) executeWrite(ops []Operation) (bool, error) {
	txn, err := c.acquireWrite()

	if err != nil {
		return false, err
	}

	again := false

	for i := range ops {
		op := &ops[i]
		op.Flags = 0
		c.handle.metrics.operation(op.Code)

		if err := c.apply(txn, op); err != nil {
			c.abort(txn)

			return false, fmt.Errorf("operation %d: %w", i, err)
		}

		again = again || op.Flags.Has(FlagAgain)
	}

	if err := c.commit(txn); err != nil {
		return false, err
	}

	return again, nil
}

func (c *call) apply(txn kv.WriteTxn, op *Operation) error {
	if op.Code == OpCreateDatabase {
		_, err := c.resolve(txn, op.Database, true)

		return err
	}

	dbi, err := c.resolve(txn, op.Database, false)

	if err != nil {
		return err
	}

	switch op.Code {
	case OpGet:
		return c.get(txn, dbi, op)
	case OpSet:
		if op.Value == nil {
			err = txn.Delete(dbi, op.Key)

			if errors.Is(err, kv.ErrNotFound) {
				return nil
			}

			return c.storeError("could not delete key", op.Database, err)
		}

		return c.storeError("could not put key", op.Database, txn.Put(dbi, op.Key, op.Value))
	case OpDropDatabase:
		c.handle.databases.evict(op.Database)

		return c.storeError(fmt.Sprintf("could not drop database %q", op.Database), op.Database, txn.Drop(dbi))
	case OpClearDatabase:
		return c.storeError(fmt.Sprintf("could not clear database %q", op.Database), op.Database, txn.Clear(dbi))
	}

	return fmt.Errorf("%w: %d", ErrUnknownOperation, op.Code)
}

// get copies the value stored under op.Key into op.Value if it fits
func (c *call) get(txn kv.Txn, dbi kv.DBI, op *Operation) error {
	value, err := txn.Get(dbi, op.Key)

	if errors.Is(err, kv.ErrNotFound) {
		op.ValueLen = 0
		op.Flags |= FlagNotFound

		return nil
	} else if err != nil {
		return c.storeError("could not get key", op.Database, err)
	}

	op.ValueLen = len(value)

	if !NewBufferView(op.Value).Write(value) {
		op.Flags |= FlagAgain
	}

	return nil
}

func (c *call) resolve(txn kv.WriteTxn, name string, create bool) (kv.DBI, error) {
	dbi, miss, err := c.handle.databases.resolve(txn, name, create)

	if err != nil {
		return 0, wrapError(fmt.Sprintf("could not open database %q", name), err)
	}

	if miss {
		c.logger.Debug("resolved database", zap.String("database", name), zap.Uint32("dbi", uint32(dbi)))
	}

	return dbi, nil
}

// storeError wraps err. A database that disappeared since it was
// resolved is evicted so the next call resolves it again.
func (c *call) storeError(wrap string, database string, err error) error {
	if errors.Is(err, kv.ErrNoSuchDatabase) && database != "" {
		c.handle.databases.evict(database)
	}

	return wrapError(wrap, err)
}
