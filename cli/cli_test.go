package cli

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/jrife/kvgate/utils/uuid"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func run(path string, args ...string) result {
	var stdout, stderr bytes.Buffer

	config := &Config{
		Name:   "kvgate",
		Exit:   func(int) {},
		Stdout: &stdout,
		Stderr: &stderr,
	}

	if path != "" {
		args = append([]string{"--path", path}, args...)
	}

	err := Cli(args, config)

	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func tempPath(t *testing.T) string {
	path := uuid.TempPath("kvgate-cli")
	t.Cleanup(func() { os.RemoveAll(path) })

	return path
}

func TestCli(t *testing.T) {
	path := tempPath(t)

	testCases := []struct {
		name   string
		args   []string
		stdout string
		err    string
	}{
		{name: "set-a", args: []string{"set", "alpha", "1"}},
		{name: "set-b", args: []string{"set", "beta", "22"}},
		{name: "set-g", args: []string{"set", "gamma", strings.Repeat("x", 100)}},
		{name: "get", args: []string{"get", "alpha", "beta"}, stdout: "alpha=1\nbeta=22\n"},
		{name: "get-large", args: []string{"get", "gamma"}, stdout: "gamma=" + strings.Repeat("x", 100) + "\n"},
		{name: "get-missing", args: []string{"get", "alpha", "delta"}, stdout: "alpha=1\n", err: "not found: delta"},
		{name: "list", args: []string{"list", "-n", "1"}, stdout: "alpha\nbeta\ngamma\n"},
		{name: "delete", args: []string{"delete", "alpha", "delta"}},
		{name: "get-deleted", args: []string{"get", "alpha"}, err: "not found: alpha"},
		{name: "create-db", args: []string{"create-db", "users"}},
		{name: "set-in-db", args: []string{"-D", "users", "set", "k", "v"}},
		{name: "get-in-db", args: []string{"-D", "users", "get", "k"}, stdout: "k=v\n"},
		{name: "isolated", args: []string{"get", "k"}, err: "not found: k"},
		{name: "clear-db", args: []string{"clear-db", "users"}},
		{name: "get-cleared", args: []string{"-D", "users", "get", "k"}, err: "not found: k"},
		{name: "drop-db", args: []string{"drop-db", "users"}},
		{name: "get-dropped", args: []string{"-D", "users", "get", "k"}, err: "database does not exist"},
		{name: "list-named", args: []string{"-D", "users", "list"}, err: "list only supports the default database"},
	}

	for _, testCase := range testCases {
		result := run(path, testCase.args...)

		if testCase.err == "" && result.err != nil {
			t.Fatalf("%s: expected err to be nil, got %#v", testCase.name, result.err)
		}

		if testCase.err != "" && (result.err == nil || !strings.Contains(result.err.Error(), testCase.err)) {
			t.Fatalf("%s: expected err to contain %q, got %#v", testCase.name, testCase.err, result.err)
		}

		if result.stdout != testCase.stdout {
			t.Fatalf("%s: expected stdout %q, got %q", testCase.name, testCase.stdout, result.stdout)
		}
	}
}

func TestCliEnv(t *testing.T) {
	path := tempPath(t)
	t.Setenv("KVGATE_PATH", path)
	t.Setenv("KVGATE_DRIVER", "bbolt")

	if result := run("", "set", "a", "1"); result.err != nil {
		t.Fatalf("expected err to be nil, got %#v", result.err)
	}

	if result := run(path, "get", "a"); result.stdout != "a=1\n" {
		t.Fatalf("expected %q, got %q (%v)", "a=1\n", result.stdout, result.err)
	}
}

func TestCliStats(t *testing.T) {
	path := tempPath(t)
	result := run(path, "--stats", "set", "a", "1")

	if result.err != nil {
		t.Fatalf("expected err to be nil, got %#v", result.err)
	}

	for _, line := range []string{
		`kvgate_calls_total{call="execute",status="ok"} 1`,
		`kvgate_operations_total{op="set"} 1`,
		`kvgate_transactions_total{kind="write"} 1`,
	} {
		if !strings.Contains(result.stderr, line+"\n") {
			t.Fatalf("expected stats to contain %q, got %q", line, result.stderr)
		}
	}
}

func TestCliErrors(t *testing.T) {
	testCases := map[string]struct {
		path string
		args []string
	}{
		"no-path": {
			args: []string{"get", "a"},
		},
		"unknown-driver": {
			path: "unused",
			args: []string{"--driver", "rocksdb", "get", "a"},
		},
		"no-command": {
			path: "unused",
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			if os.Getenv("KVGATE_PATH") != "" {
				t.Skip("KVGATE_PATH is set")
			}

			if result := run(testCase.path, testCase.args...); result.err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
