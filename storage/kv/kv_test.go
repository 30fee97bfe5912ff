package kv_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/kvgate/storage/kv"
	"github.com/jrife/kvgate/storage/kv/keys"
	"github.com/jrife/kvgate/storage/kv/plugins"
)

type databaseModel map[string]string
type envModel map[string]databaseModel

func writeEnv(env kv.Env, model envModel) error {
	txn, err := env.BeginWrite()

	if err != nil {
		return err
	}

	defer txn.Abort()

	for name, database := range model {
		dbi, err := txn.OpenDatabase(name, true)

		if err != nil {
			return err
		}

		for key, value := range database {
			if err := txn.Put(dbi, []byte(key), []byte(value)); err != nil {
				return err
			}
		}
	}

	return txn.Commit()
}

func readDatabase(env kv.Env, txn kv.Txn, name string) (databaseModel, error) {
	dbi, err := env.OpenDatabase(name)

	if err != nil {
		return nil, err
	}

	iter, err := txn.Iterator(dbi)

	if err != nil {
		return nil, err
	}

	defer iter.Close()

	model := databaseModel{}

	for iter.Next() {
		model[string(iter.Key())] = string(iter.Value())
	}

	return model, iter.Error()
}

type tempEnvBuilder func(t *testing.T, model envModel) kv.Env

func builder(plugin kv.Plugin) tempEnvBuilder {
	return func(t *testing.T, model envModel) kv.Env {
		env, err := plugin.NewTempEnv()

		if err != nil {
			t.Fatalf("Could not build a %s env: %s", plugin.Name(), err.Error())
		}

		t.Cleanup(func() { env.Delete() })

		if model != nil {
			if err := writeEnv(env, model); err != nil {
				t.Fatalf("Could not populate %s env: %s", plugin.Name(), err.Error())
			}
		}

		return env
	}
}

func TestDrivers(t *testing.T) {
	pluginManager := plugins.NewKVPluginManager()

	for _, plugin := range pluginManager.Plugins() {
		t.Run(plugin.Name(), driverTest(builder(plugin)))
	}
}

func driverTest(builder tempEnvBuilder) func(t *testing.T) {
	return func(t *testing.T) {
		testDriver(builder, t)
	}
}

func testDriver(builder tempEnvBuilder, t *testing.T) {
	t.Run("get-put-delete", func(t *testing.T) { testGetPutDelete(builder, t) })
	t.Run("abort", func(t *testing.T) { testAbort(builder, t) })
	t.Run("snapshot", func(t *testing.T) { testSnapshot(builder, t) })
	t.Run("databases", func(t *testing.T) { testDatabases(builder, t) })
	t.Run("dropped-database-identifier", func(t *testing.T) { testDroppedDatabaseIdentifier(builder, t) })
	t.Run("iterator", func(t *testing.T) { testIterator(builder, t) })
	t.Run("invalid-keys", func(t *testing.T) { testInvalidKeys(builder, t) })
}

func testGetPutDelete(builder tempEnvBuilder, t *testing.T) {
	env := builder(t, envModel{"": {"a": "1"}})
	txn, err := env.BeginWrite()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer txn.Abort()

	dbi := env.DefaultDatabase()

	if err := txn.Put(dbi, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	value, err := txn.Get(dbi, []byte("b"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if string(value) != "2" {
		t.Fatalf("expected uncommitted write to be visible, got %q", value)
	}

	if err := txn.Delete(dbi, []byte("a")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := txn.Get(dbi, []byte("a")); err != kv.ErrNotFound {
		t.Fatalf("expected err to be %#v, got %#v", kv.ErrNotFound, err)
	}

	if err := txn.Delete(dbi, []byte("a")); err != kv.ErrNotFound {
		t.Fatalf("expected err to be %#v, got %#v", kv.ErrNotFound, err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	read, err := env.BeginRead()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer read.Abort()

	model, err := readDatabase(env, read, "")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	diff := cmp.Diff(databaseModel{"b": "2"}, model)

	if diff != "" {
		t.Fatalf(diff)
	}
}

func testAbort(builder tempEnvBuilder, t *testing.T) {
	env := builder(t, envModel{"": {"a": "1"}})
	txn, err := env.BeginWrite()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Put(env.DefaultDatabase(), []byte("b"), []byte("2")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, err := txn.OpenDatabase("named", true); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	txn.Abort()
	txn.Abort()

	read, err := env.BeginRead()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer read.Abort()

	model, err := readDatabase(env, read, "")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	diff := cmp.Diff(databaseModel{"a": "1"}, model)

	if diff != "" {
		t.Fatalf(diff)
	}

	if _, err := env.OpenDatabase("named"); err != kv.ErrNoSuchDatabase {
		t.Fatalf("expected err to be %#v, got %#v", kv.ErrNoSuchDatabase, err)
	}
}

func testSnapshot(builder tempEnvBuilder, t *testing.T) {
	env := builder(t, envModel{"": {"a": "1"}})
	read, err := env.BeginRead()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer read.Abort()

	if err := writeEnv(env, envModel{"": {"a": "2"}}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	value, err := read.Get(env.DefaultDatabase(), []byte("a"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if string(value) != "1" {
		t.Fatalf("expected snapshot to hide the later commit, got %q", value)
	}

	read.Reset()

	if _, err := read.Get(env.DefaultDatabase(), []byte("a")); err == nil {
		t.Fatalf("expected reads from a reset transaction to fail")
	}

	if err := read.Renew(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	value, err = read.Get(env.DefaultDatabase(), []byte("a"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if string(value) != "2" {
		t.Fatalf("expected renewed transaction to observe the later commit, got %q", value)
	}
}

func testDatabases(builder tempEnvBuilder, t *testing.T) {
	env := builder(t, envModel{"one": {"a": "1"}, "two": {"b": "2"}})
	txn, err := env.BeginWrite()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer txn.Abort()

	one, err := txn.OpenDatabase("one", false)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	again, err := txn.OpenDatabase("one", true)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if one != again {
		t.Fatalf("expected the same database to resolve to the same identifier, got %d and %d", one, again)
	}

	if _, err := txn.OpenDatabase("three", false); err != kv.ErrNoSuchDatabase {
		t.Fatalf("expected err to be %#v, got %#v", kv.ErrNoSuchDatabase, err)
	}

	two, err := txn.OpenDatabase("two", false)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Clear(one); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Drop(two); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Drop(env.DefaultDatabase()); err != kv.ErrDefaultDatabase {
		t.Fatalf("expected err to be %#v, got %#v", kv.ErrDefaultDatabase, err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	read, err := env.BeginRead()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer read.Abort()

	model, err := readDatabase(env, read, "one")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	diff := cmp.Diff(databaseModel{}, model)

	if diff != "" {
		t.Fatalf(diff)
	}

	if _, err := env.OpenDatabase("two"); err != kv.ErrNoSuchDatabase {
		t.Fatalf("expected err to be %#v, got %#v", kv.ErrNoSuchDatabase, err)
	}
}

func testDroppedDatabaseIdentifier(builder tempEnvBuilder, t *testing.T) {
	env := builder(t, envModel{"x": {"k": "from-x"}})
	x, err := env.OpenDatabase("x")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	txn, err := env.BeginWrite()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Drop(x); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	y, err := txn.OpenDatabase("y", true)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Put(y, []byte("k"), []byte("from-y")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if x == y {
		t.Fatalf("expected a new database to get a new identifier, both got %d", x)
	}

	read, err := env.BeginRead()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer read.Abort()

	if value, err := read.Get(x, []byte("k")); !errors.Is(err, kv.ErrNoSuchDatabase) {
		t.Fatalf("expected err to be %#v, got %#v (value %q)", kv.ErrNoSuchDatabase, err, value)
	}

	value, err := read.Get(y, []byte("k"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if string(value) != "from-y" {
		t.Fatalf("expected %q, got %q", "from-y", value)
	}
}

func testIterator(builder tempEnvBuilder, t *testing.T) {
	env := builder(t, envModel{"": {"c": "3", "a": "1", "b": "2", "ab": "4"}})
	read, err := env.BeginRead()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer read.Abort()

	iter, err := read.Iterator(env.DefaultDatabase())

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer iter.Close()

	var ordered []string

	for iter.Next() {
		ordered = append(ordered, string(iter.Key()))
	}

	if err := iter.Error(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	diff := cmp.Diff([]string{"a", "ab", "b", "c"}, ordered)

	if diff != "" {
		t.Fatalf(diff)
	}

	if iter.Next() {
		t.Fatalf("expected an exhausted iterator to stay exhausted")
	}
}

func testInvalidKeys(builder tempEnvBuilder, t *testing.T) {
	env := builder(t, nil)
	txn, err := env.BeginWrite()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer txn.Abort()

	if err := txn.Put(env.DefaultDatabase(), nil, []byte("1")); !errors.Is(err, keys.ErrKeyRequired) {
		t.Fatalf("expected err to be %#v, got %#v", keys.ErrKeyRequired, err)
	}

	if _, err := txn.Get(env.DefaultDatabase(), []byte{}); !errors.Is(err, keys.ErrKeyRequired) {
		t.Fatalf("expected err to be %#v, got %#v", keys.ErrKeyRequired, err)
	}
}
