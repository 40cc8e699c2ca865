// Package storage persists monitored channels.
//
// Drivers:
//   - sqlite: default, pure Go (modernc.org/sqlite), one transaction per commit
//   - file: single JSON snapshot replaced atomically on every write
//   - postgres: gorm with AutoMigrate
//   - gcs: one JSON object per channel in a Cloud Storage bucket
//
// Every driver implements monitor.Store plus the small admin surface used by
// config seeding and the CLI.
package storage
