package kv

import "sync"

// Registry hands out stable DBIs for drivers whose native
// database handle is the database name. DBI 0 is always the
// default database. Entries are never removed, so a DBI issued
// for a database that is later dropped keeps naming that
// database and fails with ErrNoSuchDatabase until it is created again.
type Registry struct {
	mu    sync.Mutex
	names []string
	dbis  map[string]DBI
}

// NewRegistry returns a registry that contains only
// the default database
func NewRegistry() *Registry {
	return &Registry{
		names: []string{""},
		dbis:  map[string]DBI{"": 0},
	}
}

// DBI returns the identifier for name, assigning one if needed
func (registry *Registry) DBI(name string) DBI {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if dbi, ok := registry.dbis[name]; ok {
		return dbi
	}

	dbi := DBI(len(registry.names))
	registry.names = append(registry.names, name)
	registry.dbis[name] = dbi

	return dbi
}

// Name returns the name behind dbi. The default
// database is named "".
func (registry *Registry) Name(dbi DBI) (string, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if int(dbi) >= len(registry.names) {
		return "", false
	}

	return registry.names[dbi], true
}
