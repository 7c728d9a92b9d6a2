// Package store persists notification outcomes and backend health snapshots.
//
// Three drivers implement Store: an in-memory ring (the default), PostgreSQL
// through pgxpool and Redis. Callers treat every write as best effort; the
// notifier and the health monitor log store errors and carry on.
package store
