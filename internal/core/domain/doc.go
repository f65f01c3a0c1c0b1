// Package domain defines the core domain models for ksefbridge.
//
// Domain models are pure value objects without IO dependencies:
//
//   - Document, LineItem, IssuerProfile, Counterparty: invoices to submit
//   - SubmissionKey, SubmissionRecord: the duplicate-suppression ledger
//   - Credential, AuthTokenPair, SessionState: Exchange access
//   - Tenant, SyncCursor, SyncRunResult, MirroredDocument: scheduled sync
//   - Errors: coded domain errors
package domain
