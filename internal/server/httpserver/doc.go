// Package httpserver is the inbound HTTP API of ksefbridge-server.
//
//   - server.go: listener lifecycle (HTTP or HTTPS with a reloading certificate)
//   - router.go: route groups and their middleware chains
//   - middleware.go: Recover, RequestID, Metrics, Audit, APIKey
//   - handler/: request handlers and the response envelope
package httpserver
