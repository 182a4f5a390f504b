// Package store executes compiled relational statements over database/sql.
//
// It supports two drivers:
//   - sqlite3 (github.com/mattn/go-sqlite3): embedded databases and tests
//   - postgres (github.com/lib/pq): the dialect the relational compiler targets
//
// Statements are run as compiled. A statement marked Atomic runs its steps
// inside one transaction on a single pinned connection and is rolled back
// on that connection when a step fails.
//
// # Database Configuration (sqlite3)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - a single open connection, since SQLite allows one writer
//
// Row values are decoded using the model's field types: JSON text becomes
// objects, array literals become slices and numeric text becomes numbers.
package store
