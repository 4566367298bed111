// Package store provides local, durable persistence for conversations.
//
// # Overview
//
// The store is the local half of the hybrid conversation system: it owns
// durability for storage-class "local" conversations and caches metadata for
// remote-backed ones. All access goes through the Repository interface so the
// session layer can be tested against the in-memory implementation.
//
// # Data Model
//
//   - Conversation: id, title, storage class (local/remote), optional remote
//     thread id, timestamps, and an append-only message log
//   - Message: id, role (user/assistant/system), content, optional delivered
//     artifacts, timestamp
//
// Message order in the log is append order; the SQLite implementation keeps
// an explicit per-conversation sequence column rather than relying on
// timestamp ordering.
//
// # Capacity
//
// The repository is capped (50 conversations by default). When a write
// exceeds the cap, the least-recently-updated conversations are evicted in
// the same transaction.
//
// # Implementations
//
//   - SQLiteRepository: modernc.org/sqlite, WAL mode, schema auto-creation
//   - MemoryRepository: map-backed, for tests
package store
