// Package kv defines the storage engine contract used by the
// gateway and provides drivers that implement it.
//
// An environment is a single embedded store opened at a path. It
// contains one unnamed default database and any number of named
// databases. Each database is an ordered map of byte keys to byte
// values.
//
//  - Environment
//    - (default database)
//      - key1: abc
//      - key2: def
//    - Database "users"
//      - keyN: aaa
//    - Database "sessions"
//
// All access happens through transactions. Read-only transactions
// observe a snapshot and may run concurrently with each other and
// with a single writer. Read-write transactions are serialized by the
// driver. Read-only transactions can be reset, which releases their
// snapshot, and renewed later, which is cheaper than starting a new
// transaction for drivers that keep per-reader state.
//
// Drivers register themselves in the plugins package and are
// selected by name.
package kv
