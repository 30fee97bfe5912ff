package gateway

import (
	"github.com/jrife/kvgate/storage/kv"
	"go.uber.org/zap"
)

type slotState int

const (
	// slotNone holds no transaction
	slotNone slotState = iota
	// slotSuspended holds a reset read transaction that must be
	// renewed before use
	slotSuspended
	// slotPinned holds a read transaction that still has its
	// snapshot. The next read call continues on that snapshot.
	slotPinned
)

// txnSlot is where a Handle keeps its read transaction between calls.
// A transaction taken out of the slot is active until it is put back
// or aborted.
type txnSlot struct {
	state slotState
	txn   kv.ReadTxn
}

func (slot *txnSlot) take() (kv.ReadTxn, slotState) {
	txn, state := slot.txn, slot.state
	slot.txn, slot.state = nil, slotNone

	return txn, state
}

func (slot *txnSlot) put(txn kv.ReadTxn, state slotState) {
	slot.clear()
	slot.txn, slot.state = txn, state
}

// demote releases the snapshot of a pinned transaction
func (slot *txnSlot) demote() {
	if slot.state != slotPinned {
		return
	}

	slot.txn.Reset()
	slot.state = slotSuspended
}

func (slot *txnSlot) clear() {
	if slot.txn != nil {
		slot.txn.Abort()
	}

	slot.txn, slot.state = nil, slotNone
}

// acquireRead returns a read transaction on a current snapshot. A
// suspended transaction is renewed or, if that fails, replaced with
// a new one.
func (c *call) acquireRead() (kv.ReadTxn, error) {
	handle := c.handle
	handle.slot.demote()
	txn, state := handle.slot.take()

	if state == slotSuspended {
		err := txn.Renew()

		if err == nil {
			handle.metrics.transaction(txnRenew)

			return txn, nil
		}

		txn.Abort()
		handle.metrics.renewalFailed()
		c.logger.Warn("could not renew suspended transaction, starting a new one", zap.Error(err))
	}

	txn, err := handle.env.BeginRead()

	if err != nil {
		return nil, wrapError("could not begin read transaction", err)
	}

	handle.metrics.transaction(txnRead)

	return txn, nil
}

// resumeRead continues on a pinned snapshot if there is one
func (c *call) resumeRead() (kv.ReadTxn, error) {
	if c.handle.slot.state == slotPinned {
		txn, _ := c.handle.slot.take()

		return txn, nil
	}

	return c.acquireRead()
}

// suspend resets txn and keeps it for the next read call
func (c *call) suspend(txn kv.ReadTxn) {
	txn.Reset()
	c.handle.slot.put(txn, slotSuspended)
}

// pin keeps txn with its snapshot for the next read call
func (c *call) pin(txn kv.ReadTxn) {
	c.handle.slot.put(txn, slotPinned)
}

// acquireWrite begins a write transaction. A pinned snapshot is
// released first since some engines make a writer wait for readers
// on the same thread.
func (c *call) acquireWrite() (kv.WriteTxn, error) {
	c.handle.slot.demote()

	txn, err := c.handle.env.BeginWrite()

	if err != nil {
		return nil, wrapError("could not begin write transaction", err)
	}

	c.handle.metrics.transaction(txnWrite)

	return txn, nil
}

// commit commits txn. Databases first resolved inside txn are
// forgotten if the commit fails.
func (c *call) commit(txn kv.WriteTxn) error {
	if err := txn.Commit(); err != nil {
		txn.Abort()
		c.handle.databases.rollback()

		return wrapError("could not commit transaction", err)
	}

	c.handle.databases.commit()

	return nil
}

func (c *call) abort(txn kv.WriteTxn) {
	txn.Abort()
	c.handle.databases.rollback()
}
