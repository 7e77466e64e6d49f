// Package store defines interfaces for persisting harvest run history. The
// Postgres and in-memory implementations live in internal/storage; this
// package must not import database drivers or concrete clients.
package store
