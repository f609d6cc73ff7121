// Package core provides the ingestion logic for ledgersync.
//
// This package holds all domain orchestration independent of any transport
// layer. It can be used by web handlers, the scheduler, or tests without
// modification; persistence is reached only through [ledger.Store].
//
// # Architecture
//
// The package is organized around a few collaborators:
//
//   - Service: the job controller. Every import or sync runs as one
//     [ledger.Job] that moves pending, running, then completed or failed.
//   - Writer: tenant-scoped, batched upserts and deletes against the ledger.
//   - Syncer: the incremental provider loop (accounts, delta pages, cursor).
//   - AuditWriter: one audit entry per terminal job transition.
//   - ConnectionGuard: at most one active job per connection in-process.
//   - Scheduler: periodic sync fan-out over active provider connections.
//
// # File Import
//
// [Service.ImportFile] finds or creates the named file connection, snapshots
// the raw upload, parses it with csvimport, then writes the valid records:
//
//  1. Validate the request and acquire the connection guard
//  2. Create the job (pending) and start it (running)
//  3. Store the raw bytes with a SHA-256 checksum
//  4. Parse; zero valid rows fails the job without writing anything
//  5. Append (upsert by external id) or override (atomic replace)
//  6. Complete the job, emit the audit entry
//
// # Provider Sync
//
// [Service.SyncConnection] runs the [Syncer] for a provider connection. The
// cursor is saved only after a page's writes succeed, so a failed run resumes
// from the last committed page and replays are absorbed by the dedup key.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError]:
//
//   - DB001-DB007: storage errors (conflicts, connectivity, raw integrity)
//   - VAL001-VAL004: request and data validation
//   - FILE001-FILE004: upload content problems
//   - JOB001-JOB004: job lifecycle (busy, cancelled, timeout)
//   - SYNC001-SYNC003: provider availability
//   - AUTH001-AUTH003: credentials and tenant scope
package core
