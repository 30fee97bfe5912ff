package gateway

import (
	"testing"

	"github.com/jrife/kvgate/storage/kv"
	"github.com/jrife/kvgate/storage/kv/plugins/memory"
)

func TestDatabaseCache(t *testing.T) {
	env := memory.New("cache")
	cache := newDatabaseCache(env)

	if dbi, miss, err := cache.resolve(nil, "", false); err != nil || miss || dbi != env.DefaultDatabase() {
		t.Fatalf("expected the default database without a miss, got %d %t %#v", dbi, miss, err)
	}

	if _, _, err := cache.resolve(nil, "users", false); err != kv.ErrNoSuchDatabase {
		t.Fatalf("expected err to be %#v, got %#v", kv.ErrNoSuchDatabase, err)
	}

	txn, err := env.BeginWrite()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	created, miss, err := cache.resolve(txn, "users", true)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if !miss {
		t.Fatalf("expected the first resolution to miss")
	}

	again, miss, err := cache.resolve(txn, "users", true)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if miss || again != created {
		t.Fatalf("expected a cached %d, got %d (miss %t)", created, again, miss)
	}

	txn.Abort()
	cache.rollback()

	if _, ok := cache.lookup("users"); ok {
		t.Fatalf("expected a database created by an aborted transaction to be forgotten")
	}

	txn, err = env.BeginWrite()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, _, err := cache.resolve(txn, "users", true); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	cache.commit()

	if _, ok := cache.lookup("users"); !ok {
		t.Fatalf("expected a committed database to stay cached")
	}

	cache.rollback()

	if _, ok := cache.lookup("users"); !ok {
		t.Fatalf("expected rollback to keep committed entries")
	}

	cache.evict("users")

	if _, ok := cache.lookup("users"); ok {
		t.Fatalf("expected an evicted database to be forgotten")
	}

	if _, miss, err := cache.resolve(nil, "users", false); err != nil || !miss {
		t.Fatalf("expected an evicted database to resolve again, got miss %t err %#v", miss, err)
	}
}
