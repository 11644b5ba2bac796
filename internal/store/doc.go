// Package store is the typed client for greeterbot's durable state.
//
// It owns the record schema (GreetedRecord, ControlRecord, the two index
// sets) and hides the backend behind the Store interface. Two backends
// exist: SQLite for single-host deployments and Postgres for a networked
// store shared between environments.
//
// The store is the only synchronization point between the batch scheduler
// and the live correlator. Every mutation is a single atomic statement so
// the two loops never need in-process locking. Records carry a TTL
// (expires_at); reads treat expired rows as absent and writes purge them
// opportunistically.
package store
