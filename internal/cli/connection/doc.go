// Package connection is the ksefbridge-cli client of the daemon HTTP API.
//
// It sends the API key as a bearer token and unwraps the response envelope:
// success payloads are decoded from "data", failures become *APIError.
package connection
