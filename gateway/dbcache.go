package gateway

import (
	"github.com/jrife/kvgate/storage/kv"
)

// databaseCache maps database names to the identifiers the
// environment issued for them
type databaseCache struct {
	env  kv.Env
	dbis map[string]kv.DBI
	// pending holds names first resolved inside the open write
	// transaction. Their identifiers are invalid if it aborts.
	pending map[string]struct{}
}

func newDatabaseCache(env kv.Env) *databaseCache {
	return &databaseCache{
		env:     env,
		dbis:    map[string]kv.DBI{},
		pending: map[string]struct{}{},
	}
}

func (cache *databaseCache) lookup(name string) (kv.DBI, bool) {
	if name == "" {
		return cache.env.DefaultDatabase(), true
	}

	dbi, ok := cache.dbis[name]

	return dbi, ok
}

// resolve returns the identifier for the named database. With a nil
// txn an existing database is opened outside of any transaction and
// create is ignored. Otherwise the database is opened inside txn and
// created first if create is set. miss reports whether the name was
// not cached before the call.
func (cache *databaseCache) resolve(txn kv.WriteTxn, name string, create bool) (dbi kv.DBI, miss bool, err error) {
	cached, ok := cache.lookup(name)

	if ok && !create {
		return cached, false, nil
	}

	if txn == nil {
		dbi, err = cache.env.OpenDatabase(name)
	} else {
		dbi, err = txn.OpenDatabase(name, create)
	}

	if err != nil {
		return 0, false, err
	}

	if ok && dbi == cached {
		return dbi, false, nil
	}

	cache.dbis[name] = dbi

	if txn != nil {
		cache.pending[name] = struct{}{}
	}

	return dbi, true, nil
}

func (cache *databaseCache) evict(name string) {
	delete(cache.dbis, name)
	delete(cache.pending, name)
}

// commit makes every pending entry permanent
func (cache *databaseCache) commit() {
	for name := range cache.pending {
		delete(cache.pending, name)
	}
}

// rollback forgets every pending entry
func (cache *databaseCache) rollback() {
	for name := range cache.pending {
		delete(cache.dbis, name)
		delete(cache.pending, name)
	}
}
