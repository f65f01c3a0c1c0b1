// Package handler implements the ksefbridge HTTP API.
//
// Every JSON response uses the Response envelope. Domain error codes are
// mapped to HTTP statuses by their numeric suffix, which mirrors the
// closest status (KB-TEN-4040 -> 404, KB-DUP-4090 -> 409).
package handler
