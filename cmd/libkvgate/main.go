//go:build cgo

// Command libkvgate builds the gateway as a C shared library:
//
//	go build -buildmode=c-shared -o libkvgate.so ./cmd/libkvgate
//
// Every call except kvgate_open and kvgate_free returns 0 (ok), 1 (err)
// or 2 (again). After an err, kvgate_last_error returns the reason.
// kvgate.h declares the constants and the kvgate_op record. The driver
// is lmdb unless KVGATE_DRIVER names another one.
package main

/*
#include <stdlib.h>
#include "kvgate.h"
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"runtime/cgo"
	"unsafe"

	"github.com/jrife/kvgate/gateway"
	"github.com/jrife/kvgate/storage/kv/plugins/lmdb"
	"go.uber.org/zap"
)

// handleState is what a cgo.Handle given to the host points to
type handleState struct {
	handle *gateway.Handle
	// panicErr takes precedence over the gateway's last error
	panicErr error
	// lastErr is the string last returned by kvgate_last_error
	lastErr *C.char
}

func (state *handleState) freeLastErr() {
	if state.lastErr != nil {
		C.free(unsafe.Pointer(state.lastErr))
		state.lastErr = nil
	}
}

// takeLastError returns the pending error message once
func (state *handleState) takeLastError() (string, bool) {
	if state.panicErr != nil {
		message := state.panicErr.Error()
		state.panicErr = nil
		state.handle.LastError()

		return message, true
	}

	return state.handle.LastError()
}

// call runs fn on the state behind h. A panic is reported as err.
func call(h uintptr, fn func(state *handleState) gateway.Status) (status C.int) {
	state, ok := lookup(h)

	if !ok {
		return C.int(C.KVGATE_ERR)
	}

	state.freeLastErr()
	state.panicErr = nil

	defer func() {
		if r := recover(); r != nil {
			state.panicErr = fmt.Errorf("panic: %v", r)
			status = C.int(C.KVGATE_ERR)
		}
	}()

	return C.int(fn(state))
}

func lookup(h uintptr) (state *handleState, ok bool) {
	defer func() {
		if recover() != nil {
			state, ok = nil, false
		}
	}()

	state, ok = cgo.Handle(h).Value().(*handleState)

	return state, ok
}

func logger() *zap.Logger {
	level := os.Getenv("KVGATE_LOG_LEVEL")

	if level == "" {
		return zap.NewNop()
	}

	config := zap.NewProductionConfig()
	atomicLevel, err := zap.ParseAtomicLevel(level)

	if err != nil {
		return zap.NewNop()
	}

	config.Level = atomicLevel
	logger, err := config.Build()

	if err != nil {
		return zap.NewNop()
	}

	return logger
}

func driver() string {
	if name := os.Getenv("KVGATE_DRIVER"); name != "" {
		return name
	}

	return lmdb.DriverName
}

//export kvgate_open
func kvgate_open(path *C.char, permissions C.uint32_t, handle *C.uintptr_t, errOut **C.char) C.int {
	if handle == nil || path == nil {
		if errOut != nil {
			*errOut = C.CString("kvgate_open: path and handle must not be NULL")
		}

		return C.int(C.KVGATE_ERR)
	}

	h, err := gateway.Open(gateway.Config{
		Driver:      driver(),
		Path:        C.GoString(path),
		Permissions: os.FileMode(permissions),
		Logger:      logger(),
	})

	if err != nil {
		if errOut != nil {
			*errOut = C.CString(err.Error())
		}

		return C.int(C.KVGATE_ERR)
	}

	*handle = C.uintptr_t(cgo.NewHandle(&handleState{handle: h}))

	return C.int(C.KVGATE_OK)
}

//export kvgate_free
func kvgate_free(str *C.char) {
	C.free(unsafe.Pointer(str))
}

//export kvgate_close
func kvgate_close(h C.uintptr_t) C.int {
	state, ok := lookup(uintptr(h))

	if !ok {
		return C.int(C.KVGATE_ERR)
	}

	state.freeLastErr()
	cgo.Handle(h).Delete()

	if err := state.handle.Close(); err != nil {
		return C.int(C.KVGATE_ERR)
	}

	return C.int(C.KVGATE_OK)
}

// kvgate_last_error returns the reason for the last err status or NULL.
// The string belongs to the library and is valid until the next call
// on the same handle.
//
//export kvgate_last_error
func kvgate_last_error(h C.uintptr_t) *C.char {
	state, ok := lookup(uintptr(h))

	if !ok {
		return nil
	}

	state.freeLastErr()

	if message, ok := state.takeLastError(); ok {
		state.lastErr = C.CString(message)
	}

	return state.lastErr
}

func bytesAt(ptr unsafe.Pointer, length C.size_t) []byte {
	if ptr == nil {
		return nil
	}

	return unsafe.Slice((*byte)(ptr), int(length))
}

//export kvgate_execute
func kvgate_execute(h C.uintptr_t, cOps *C.kvgate_op, n C.size_t, write C.int) C.int {
	return call(uintptr(h), func(state *handleState) gateway.Status {
		records := unsafe.Slice(cOps, int(n))
		ops := make([]gateway.Operation, len(records))

		for i, record := range records {
			ops[i] = gateway.Operation{
				Code:  gateway.OpCode(record.op_code),
				Key:   bytesAt(unsafe.Pointer(record.key), record.key_len),
				Value: bytesAt(unsafe.Pointer(record.value), record.value_len),
			}

			if record.database != nil {
				ops[i].Database = C.GoString(record.database)
			}
		}

		status := state.handle.Execute(context.Background(), ops, write != 0)

		for i := range records {
			records[i].flags = C.uint32_t(ops[i].Flags)

			if ops[i].Code == gateway.OpGet {
				records[i].value_len = C.size_t(ops[i].ValueLen)
			}
		}

		return status
	})
}

func keysAt(keys **C.uint8_t, lengths *C.size_t, n C.size_t) [][]byte {
	pointers := unsafe.Slice(keys, int(n))
	sizes := unsafe.Slice(lengths, int(n))
	result := make([][]byte, int(n))

	for i := range result {
		result[i] = bytesAt(unsafe.Pointer(pointers[i]), sizes[i])
	}

	return result
}

//export kvgate_get_multi
func kvgate_get_multi(h C.uintptr_t, keys **C.uint8_t, keyLens *C.size_t, n C.size_t, out *C.uint8_t, outLen C.size_t, lengths *C.int64_t) C.int {
	return call(uintptr(h), func(state *handleState) gateway.Status {
		goLengths := make([]int, int(n))
		status := state.handle.GetMulti(context.Background(), keysAt(keys, keyLens, n), bytesAt(unsafe.Pointer(out), outLen), goLengths)

		cLengths := unsafe.Slice(lengths, int(n))

		for i, length := range goLengths {
			cLengths[i] = C.int64_t(length)
		}

		return status
	})
}

//export kvgate_set_multi
func kvgate_set_multi(h C.uintptr_t, keys **C.uint8_t, keyLens *C.size_t, values **C.uint8_t, valueLens *C.size_t, n C.size_t) C.int {
	return call(uintptr(h), func(state *handleState) gateway.Status {
		return state.handle.SetMulti(context.Background(), keysAt(keys, keyLens, n), keysAt(values, valueLens, n))
	})
}

//export kvgate_list_keys
func kvgate_list_keys(h C.uintptr_t, out *C.uint8_t, outLen C.size_t, lengths *C.int64_t, n C.size_t, written *C.size_t) C.int {
	return call(uintptr(h), func(state *handleState) gateway.Status {
		goLengths := make([]int, int(n))
		count, status := state.handle.ListKeys(context.Background(), bytesAt(unsafe.Pointer(out), outLen), goLengths)
		cLengths := unsafe.Slice(lengths, int(n))

		for i, length := range goLengths {
			cLengths[i] = C.int64_t(length)
		}

		if written != nil {
			*written = C.size_t(count)
		}

		return status
	})
}

//export kvgate_create_db
func kvgate_create_db(h C.uintptr_t, name *C.char) C.int {
	return call(uintptr(h), func(state *handleState) gateway.Status {
		return state.handle.CreateDatabase(context.Background(), C.GoString(name))
	})
}

//export kvgate_drop_db
func kvgate_drop_db(h C.uintptr_t, name *C.char) C.int {
	return call(uintptr(h), func(state *handleState) gateway.Status {
		return state.handle.DropDatabase(context.Background(), C.GoString(name))
	})
}

//export kvgate_clear_db
func kvgate_clear_db(h C.uintptr_t, name *C.char) C.int {
	return call(uintptr(h), func(state *handleState) gateway.Status {
		return state.handle.ClearDatabase(context.Background(), C.GoString(name))
	})
}

func main() {}
