package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jrife/kvgate/storage/kv"
	"github.com/jrife/kvgate/storage/kv/keys"
)

func TestClassify(t *testing.T) {
	testCases := map[string]struct {
		err   error
		class ErrorClass
	}{
		"nil": {
			err:   nil,
			class: ClassNone,
		},
		"key-not-found": {
			err:   kv.ErrNotFound,
			class: ClassNotFound,
		},
		"wrapped-no-such-database": {
			err:   wrapError("could not open database", kv.ErrNoSuchDatabase),
			class: ClassNotFound,
		},
		"buffer-too-small": {
			err:   ErrBufferTooSmall,
			class: ClassBufferTooSmall,
		},
		"txn-invalid": {
			err:   fmt.Errorf("could not renew transaction: %w", kv.ErrTxnInvalid),
			class: ClassTxnInvalid,
		},
		"empty-key": {
			err:   fmt.Errorf("operation 2: %w", keys.ErrKeyRequired),
			class: ClassProtocolMisuse,
		},
		"read-only-batch": {
			err:   ErrReadOnlyBatch,
			class: ClassProtocolMisuse,
		},
		"default-database": {
			err:   kv.ErrDefaultDatabase,
			class: ClassProtocolMisuse,
		},
		"closed-env": {
			err:   wrapError("could not begin read transaction", kv.ErrClosed),
			class: ClassProtocolMisuse,
		},
		"engine-failure": {
			err:   errors.New("mdb_put: MDB_MAP_FULL"),
			class: ClassStoreFailure,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			if class := Classify(testCase.err); class != testCase.class {
				t.Fatalf("expected %s, got %s", testCase.class, class)
			}
		})
	}
}

func TestStatusValues(t *testing.T) {
	if StatusOK != 0 || StatusErr != 1 || StatusAgain != 2 {
		t.Fatalf("status values changed: ok=%d err=%d again=%d", StatusOK, StatusErr, StatusAgain)
	}

	if FlagNotFound != 1 || FlagAgain != 2 {
		t.Fatalf("flag values changed: not_found=%d again=%d", FlagNotFound, FlagAgain)
	}

	if !(FlagNotFound | FlagAgain).Has(FlagAgain) {
		t.Fatalf("expected combined flags to contain FlagAgain")
	}

	if ResultFlags(0).Has(FlagNotFound) {
		t.Fatalf("expected empty flags not to contain FlagNotFound")
	}
}
