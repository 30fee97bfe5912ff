//go:build cgo

package main

/*
#include <stdlib.h>
#include "kvgate.h"
*/
import "C"

import (
	"unsafe"

	"github.com/jrife/kvgate/gateway"
)

// The helpers in this file build C-allocated arguments for the exported
// functions and copy results back into Go values. Test files cannot use
// cgo, so the tests drive the C surface through them.

// cAllocs tracks C memory owned by a set of arguments
type cAllocs []unsafe.Pointer

func (allocs *cAllocs) bytes(data []byte) unsafe.Pointer {
	if data == nil {
		return nil
	}

	ptr := C.CBytes(data)
	*allocs = append(*allocs, ptr)

	return ptr
}

func (allocs *cAllocs) malloc(size int) unsafe.Pointer {
	ptr := C.malloc(C.size_t(size))
	*allocs = append(*allocs, ptr)

	return ptr
}

func (allocs *cAllocs) free() {
	for _, ptr := range *allocs {
		C.free(ptr)
	}

	*allocs = nil
}

// opRecords is a kvgate_op array in C memory
type opRecords struct {
	allocs     cAllocs
	ops        *C.kvgate_op
	records    []C.kvgate_op
	capacities []int
}

func newOpRecords(n int) *opRecords {
	records := &opRecords{capacities: make([]int, n)}
	records.ops = (*C.kvgate_op)(C.calloc(C.size_t(n+1), C.size_t(C.sizeof_kvgate_op)))
	records.allocs = append(records.allocs, unsafe.Pointer(records.ops))
	records.records = unsafe.Slice(records.ops, n)

	return records
}

func (records *opRecords) database(i int, name string) {
	if name == "" {
		return
	}

	str := C.CString(name)
	records.allocs = append(records.allocs, unsafe.Pointer(str))
	records.records[i].database = str
}

// set fills record i. A nil value is passed as NULL.
func (records *opRecords) set(i int, code gateway.OpCode, database string, key, value []byte) {
	record := &records.records[i]
	record.op_code = C.uint32_t(code)
	record.key = (*C.uint8_t)(records.allocs.bytes(key))
	record.key_len = C.size_t(len(key))
	record.value = (*C.uint8_t)(records.allocs.bytes(value))
	record.value_len = C.size_t(len(value))
	records.capacities[i] = len(value)
	records.database(i, database)
}

// get fills record i with a get whose output region holds capacity bytes
func (records *opRecords) get(i int, database string, key []byte, capacity int) {
	record := &records.records[i]
	record.op_code = C.uint32_t(gateway.OpGet)
	record.key = (*C.uint8_t)(records.allocs.bytes(key))
	record.key_len = C.size_t(len(key))
	record.value = (*C.uint8_t)(records.allocs.malloc(capacity + 1))
	record.value_len = C.size_t(capacity)
	records.capacities[i] = capacity
	records.database(i, database)
}

func (records *opRecords) execute(h uintptr, write bool) gateway.Status {
	w := 0

	if write {
		w = 1
	}

	return gateway.Status(kvgate_execute(C.uintptr_t(h), records.ops, C.size_t(len(records.records)), C.int(w)))
}

// result returns the flags and length written back to record i and
// the part of its output region that holds a value
func (records *opRecords) result(i int) (gateway.ResultFlags, int, []byte) {
	record := records.records[i]
	length := int(record.value_len)
	copied := length

	if copied > records.capacities[i] {
		copied = records.capacities[i]
	}

	var value []byte

	if record.value != nil {
		value = C.GoBytes(unsafe.Pointer(record.value), C.int(copied))
	}

	return gateway.ResultFlags(record.flags), length, value
}

func (records *opRecords) free() {
	records.allocs.free()
}

// byteArrays is a parallel pair of pointer and length arrays in C memory
type byteArrays struct {
	pointers **C.uint8_t
	lengths  *C.size_t
}

func (allocs *cAllocs) arrays(values [][]byte) byteArrays {
	n := len(values)
	pointers := (**C.uint8_t)(allocs.malloc((n + 1) * int(unsafe.Sizeof(uintptr(0)))))
	lengths := (*C.size_t)(allocs.malloc((n + 1) * int(C.sizeof_size_t)))
	pointerSlice := unsafe.Slice(pointers, n)
	lengthSlice := unsafe.Slice(lengths, n)

	for i, value := range values {
		pointerSlice[i] = (*C.uint8_t)(allocs.bytes(value))
		lengthSlice[i] = C.size_t(len(value))
	}

	return byteArrays{pointers: pointers, lengths: lengths}
}

func (allocs *cAllocs) int64s(n int) (*C.int64_t, []C.int64_t) {
	ptr := (*C.int64_t)(allocs.malloc((n + 1) * int(C.sizeof_int64_t)))

	return ptr, unsafe.Slice(ptr, n)
}

func goInt64s(values []C.int64_t) []int64 {
	result := make([]int64, len(values))

	for i, value := range values {
		result[i] = int64(value)
	}

	return result
}

func getMulti(h uintptr, keys [][]byte, outLen int) (gateway.Status, []byte, []int64) {
	var allocs cAllocs
	defer allocs.free()

	keyArrays := allocs.arrays(keys)
	out := allocs.malloc(outLen + 1)
	lengths, lengthSlice := allocs.int64s(len(keys))
	status := kvgate_get_multi(C.uintptr_t(h), keyArrays.pointers, keyArrays.lengths, C.size_t(len(keys)), (*C.uint8_t)(out), C.size_t(outLen), lengths)

	return gateway.Status(status), C.GoBytes(out, C.int(outLen)), goInt64s(lengthSlice)
}

func setMulti(h uintptr, keys, values [][]byte) gateway.Status {
	var allocs cAllocs
	defer allocs.free()

	keyArrays := allocs.arrays(keys)
	valueArrays := allocs.arrays(values)

	return gateway.Status(kvgate_set_multi(C.uintptr_t(h), keyArrays.pointers, keyArrays.lengths, valueArrays.pointers, valueArrays.lengths, C.size_t(len(keys))))
}

func listKeys(h uintptr, outLen int, slots int) (gateway.Status, []byte, []int64, int) {
	var allocs cAllocs
	defer allocs.free()

	out := allocs.malloc(outLen + 1)
	lengths, lengthSlice := allocs.int64s(slots)
	written := (*C.size_t)(allocs.malloc(int(C.sizeof_size_t)))
	status := kvgate_list_keys(C.uintptr_t(h), (*C.uint8_t)(out), C.size_t(outLen), lengths, C.size_t(slots), written)

	return gateway.Status(status), C.GoBytes(out, C.int(outLen)), goInt64s(lengthSlice), int(*written)
}

func dropDatabase(h uintptr, name string) gateway.Status {
	str := C.CString(name)
	defer C.free(unsafe.Pointer(str))

	return gateway.Status(kvgate_drop_db(C.uintptr_t(h), str))
}

// open calls kvgate_open. A false withHandle passes a NULL handle pointer.
func open(path string, withHandle bool) (uintptr, gateway.Status, string) {
	var allocs cAllocs
	defer allocs.free()

	cPath := C.CString(path)
	allocs = append(allocs, unsafe.Pointer(cPath))

	var handle *C.uintptr_t

	if withHandle {
		handle = (*C.uintptr_t)(allocs.malloc(int(unsafe.Sizeof(uintptr(0)))))
		*handle = 0
	}

	errOut := (**C.char)(allocs.malloc(int(unsafe.Sizeof(uintptr(0)))))
	*errOut = nil
	status := gateway.Status(kvgate_open(cPath, 0600, handle, errOut))

	var message string

	if *errOut != nil {
		message = C.GoString(*errOut)
		kvgate_free(*errOut)
	}

	if handle == nil {
		return 0, status, message
	}

	return uintptr(*handle), status, message
}

func closeHandle(h uintptr) gateway.Status {
	return gateway.Status(kvgate_close(C.uintptr_t(h)))
}
