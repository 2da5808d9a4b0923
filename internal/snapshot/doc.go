// Package snapshot persists the outbound message queue between runs.
//
// A snapshot is the complete set of unsent messages. Every backend treats
// Save as a replacement of the previous snapshot:
//
//   - MemoryStore keeps it in process memory
//   - FileStore writes one file atomically (JSON or CBOR, optionally zstd)
//   - SQLiteStore and PostgresStore keep one row per message under an owner key
//
// Open builds the backend named in a config.SnapshotConfig.
package snapshot
