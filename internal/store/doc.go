// Package store provides SQLite-backed persistence for the engine's
// registries:
//   - Devices: configured devices, including the engine's own peers
//   - Apps: installed application definitions
//   - Feeds: messaging feeds keyed by contact
//
// # Ordering
//
// Every row carries a seq from the engine's logical clock. List queries
// order by seq ASC, id COLLATE BINARY ASC so results are stable across
// restarts.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
