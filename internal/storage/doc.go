// Package storage journals delivery outcomes reported by the dispatcher.
//
// Only batch metadata is stored (id, outcome, size, error); record text never
// reaches disk. Drivers:
//   - file: append-only JSON Lines
//   - sqlite: modernc.org/sqlite database
package storage
