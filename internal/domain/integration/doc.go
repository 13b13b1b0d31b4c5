// Package integration contains the Integration bounded context.
// This context owns the pull side of the practice-management sync: truth records
// copied from the external API, per-stage resume cursors, run history, and the
// error taxonomy shared by every sync component.
//
// Key concepts:
//   - ExternalRecord: immutable-identity, mutable-payload audit copy of one external entity
//   - SyncCursor: per-(scope, stage) resume pointer and state machine
//   - Source: port for the paginated external API
//   - RecordDecoder: versioned schema adapter turning raw payloads into typed views
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
