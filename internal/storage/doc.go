// Package storage is the persistence boundary for campaigns, per-recipient
// delivery outcomes, and the read-only bot/subscriber views consumed by the
// target resolver.
//
// Three backends share the Store interface: sqlite (single file, WAL),
// postgres, and an in-process memory store for tests and dev runs.
package storage
