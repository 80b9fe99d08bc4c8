// Package store provides persistent storage for the relay using SQLite.
//
// # Data Models
//
//   - Activity: one durable forwarding job keyed by id, carrying the
//     target URL/method, reply URL/method, serialized request headers,
//     payload, and the state machine position
//   - Response: the persisted result of a successful target call,
//     foreign-keyed to its Activity; written once, never overwritten
//
// # State Machine
//
// Activities move through six states:
//
//	CREATED -> SCHEDULED -> SENT -> COMPLETED
//	               ^           \
//	               |            -> REPLY_FAILED -> COMPLETED
//	          SENT_FAILED <- SCHEDULED (target failure; requeued)
//
// Workers coordinate exclusively through these persisted transitions.
// There is no in-process shared state; any node can resume any row.
//
// # Leasing
//
// LeaseNextActivity performs a conditional update: the earliest row in
// CREATED or SCHEDULED with no lease (or a lease older than the TTL) is
// moved to SCHEDULED with the caller's node id and a fresh leased_at.
// Only the winning update counts as a lease. node_id itself is advisory
// and is kept for observability only.
//
// # Transactions
//
// The two write pairs that must not be torn are transactional:
//
//   - InsertResponseMarkSent: insert Response + set Activity SENT
//   - PurgeActivity: delete Responses, then the Activity, guarded on
//     COMPLETED state
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests that need a throwaway store.
package store
