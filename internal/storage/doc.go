// Package storage persists ksefbridge state in an embedded key-value engine.
//
// Two KVEngine implementations exist: BadgerEngine for durable deployments
// and memory.Engine for tests and ephemeral runs. Typed repositories in this
// package encode records as JSON under prefixed keys:
//
//   - sub/<tax_id>/<kind>/<number>       submission ledger (unique)
//   - cur/<tenant>/<subject>             sync cursors
//   - run/<tenant>/<run_id>              sync run log
//   - doc/<tenant>/<subject>/<number>    mirrored documents
//   - ten/<tenant>                       tenants
//
// Uniqueness of submission keys is enforced by KVEngine.Insert and
// KVEngine.Update, which run as single transactions with conflict detection,
// so concurrent submitters cannot both claim a key.
package storage
