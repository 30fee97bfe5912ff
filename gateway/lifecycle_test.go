package gateway_test

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jrife/kvgate/gateway"
	"github.com/jrife/kvgate/storage/kv"
	"github.com/jrife/kvgate/storage/kv/plugins/memory"
	"github.com/jrife/kvgate/utils/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// unrenewableEnv hands out read transactions that can never be renewed
type unrenewableEnv struct {
	kv.Env
}

func (env unrenewableEnv) BeginRead() (kv.ReadTxn, error) {
	txn, err := env.Env.BeginRead()

	if err != nil {
		return nil, err
	}

	return unrenewableTxn{ReadTxn: txn}, nil
}

type unrenewableTxn struct {
	kv.ReadTxn
}

func (txn unrenewableTxn) Renew() error {
	return fmt.Errorf("reader slot was reclaimed: %w", kv.ErrTxnInvalid)
}

func TestRenewalFailureFallsBack(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	registry := prometheus.NewRegistry()
	handle := gateway.New(unrenewableEnv{Env: memory.New("renewal")}, gateway.Config{
		Logger:  zap.New(core),
		Metrics: gateway.NewMetrics(registry),
	})
	defer handle.Close()

	set(t, handle, "a", "1")
	get(t, handle, "", "a")
	set(t, handle, "a", "2")

	if op := get(t, handle, "", "a"); string(op.Value[:op.ValueLen]) != "2" {
		t.Fatalf("expected the replacement transaction to observe the later commit, got %q", op.Value[:op.ValueLen])
	}

	if _, ok := handle.LastError(); ok {
		t.Fatalf("expected a recovered renewal failure not to record an error")
	}

	warnings := logs.FilterMessage("could not renew suspended transaction, starting a new one").All()

	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}

	expected := `
# HELP kvgate_renewal_failures_total Total number of suspended read transactions that could not be renewed
# TYPE kvgate_renewal_failures_total counter
kvgate_renewal_failures_total 1
`

	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "kvgate_renewal_failures_total"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}
}

func TestOpen(t *testing.T) {
	testCases := map[string]struct {
		config gateway.Config
		err    error
	}{
		"default-driver": {
			config: gateway.Config{Path: uuid.TempPath("gateway"), Permissions: 0600},
		},
		"memory": {
			config: gateway.Config{Driver: memory.DriverName, Path: uuid.TempPath("memory")},
		},
		"no-such-driver": {
			config: gateway.Config{Driver: "rocksdb", Path: uuid.TempPath("memory")},
			err:    gateway.ErrNoSuchDriver,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			handle, err := gateway.Open(testCase.config)

			if testCase.err != nil {
				if !errors.Is(err, testCase.err) {
					t.Fatalf("expected err to be %#v, got %#v", testCase.err, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			defer os.RemoveAll(testCase.config.Path)

			set(t, handle, "a", "1")

			if op := get(t, handle, "", "a"); string(op.Value[:op.ValueLen]) != "1" {
				t.Fatalf("expected %q, got %q", "1", op.Value[:op.ValueLen])
			}

			if err := handle.Close(); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}
		})
	}

	if _, err := gateway.Open(gateway.Config{}); err == nil {
		t.Fatalf("expected opening without a path to fail")
	}
}
