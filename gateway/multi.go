package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrife/kvgate/storage/kv"
)

// NotFound is the length reported for a key that does not exist
const NotFound = -1

// GetMulti looks up keys in the default database and packs their
// values back to back into out. lengths[i] receives the length of the
// value of keys[i] or NotFound. Once a value does not fit, no more
// values are written but the lengths of the remaining keys are still
// reported and GetMulti returns StatusAgain.
func (handle *Handle) GetMulti(ctx context.Context, keys [][]byte, out []byte, lengths []int) Status {
	c := handle.begin(ctx, "get_multi")

	if err := c.checkOpen(); err != nil {
		return c.fail(err)
	}

	if len(keys) != len(lengths) {
		return c.fail(fmt.Errorf("%d keys and %d lengths: %w", len(keys), len(lengths), ErrLengthMismatch))
	}

	if err := validateKeys(keys); err != nil {
		return c.fail(err)
	}

	txn, err := c.acquireRead()

	if err != nil {
		return c.fail(err)
	}

	dbi := handle.env.DefaultDatabase()
	view := NewBufferView(out)
	exhausted := false

	for i, key := range keys {
		handle.metrics.operation(OpGet)
		value, err := txn.Get(dbi, key)

		if errors.Is(err, kv.ErrNotFound) {
			lengths[i] = NotFound

			continue
		} else if err != nil {
			txn.Abort()

			return c.fail(fmt.Errorf("key %d: %w", i, wrapError("could not get key", err)))
		}

		lengths[i] = len(value)

		if !exhausted && !view.Write(value) {
			exhausted = true
		}
	}

	c.suspend(txn)

	if exhausted {
		return c.again()
	}

	return c.done(StatusOK)
}

// SetMulti stores values[i] under keys[i] in the default database in
// one write transaction. A nil value deletes its key.
func (handle *Handle) SetMulti(ctx context.Context, keys [][]byte, values [][]byte) Status {
	c := handle.begin(ctx, "set_multi")

	if err := c.checkOpen(); err != nil {
		return c.fail(err)
	}

	if len(keys) != len(values) {
		return c.fail(fmt.Errorf("%d keys and %d values: %w", len(keys), len(values), ErrLengthMismatch))
	}

	if err := validateKeys(keys); err != nil {
		return c.fail(err)
	}

	txn, err := c.acquireWrite()

	if err != nil {
		return c.fail(err)
	}

	dbi := handle.env.DefaultDatabase()

	for i, key := range keys {
		handle.metrics.operation(OpSet)

		if values[i] == nil {
			err = txn.Delete(dbi, key)

			if errors.Is(err, kv.ErrNotFound) {
				err = nil
			}
		} else {
			err = txn.Put(dbi, key, values[i])
		}

		if err != nil {
			c.abort(txn)

			return c.fail(fmt.Errorf("key %d: %w", i, wrapError("could not write key", err)))
		}
	}

	if err := c.commit(txn); err != nil {
		return c.fail(err)
	}

	return c.done(StatusOK)
}

// ListKeys packs the keys of the default database in order into out
// and their lengths into lengths. It returns the number of keys
// written. Unused entries of lengths are set to NotFound.
//
// ListKeys returns StatusAgain when out or lengths runs out. If out
// ran out, the length of the key that did not fit is reported right
// after the last written one. The snapshot is kept until the next read
// call so a retry with larger buffers lists the same keys from the
// start.
func (handle *Handle) ListKeys(ctx context.Context, out []byte, lengths []int) (int, Status) {
	c := handle.begin(ctx, "list_keys")

	if err := c.checkOpen(); err != nil {
		return 0, c.fail(err)
	}

	txn, err := c.resumeRead()

	if err != nil {
		return 0, c.fail(err)
	}

	iter, err := txn.Iterator(handle.env.DefaultDatabase())

	if err != nil {
		txn.Abort()

		return 0, c.fail(wrapError("could not list keys", err))
	}

	view := NewBufferView(out)
	written, reported := 0, 0
	exhausted := false

	for iter.Next() {
		if written == len(lengths) {
			exhausted = true

			break
		}

		key := iter.Key()
		lengths[written] = len(key)
		reported = written + 1

		if !view.Write(key) {
			exhausted = true

			break
		}

		written++
	}

	err = iter.Error()
	iter.Close()

	if err != nil {
		txn.Abort()

		return 0, c.fail(wrapError("could not list keys", err))
	}

	for i := reported; i < len(lengths); i++ {
		lengths[i] = NotFound
	}

	if exhausted {
		c.pin(txn)

		return written, c.again()
	}

	c.suspend(txn)

	return written, c.done(StatusOK)
}

func validateKeys(keys [][]byte) error {
	for i, key := range keys {
		if len(key) == 0 {
			return fmt.Errorf("key %d: %w", i, ErrKeyRequired)
		}
	}

	return nil
}
