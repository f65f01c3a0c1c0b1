// Package service orchestrates the ksefbridge use cases on top of the
// domain model, the Exchange client packages and the storage repositories.
//
// This package contains:
//
//   - DuplicateDetector: submission ledger checks, claims and records
//   - SubmissionService: validate, encrypt and submit one document
//   - SyncService: incremental mirror of remote documents per tenant
//   - TenantService: tenant registry with sealed Exchange tokens
//
// Storage dependencies are declared as interfaces here so services can be
// tested against in-memory implementations.
package service
