// Package tlsroots loads TLS trust material.
//
//   - roots.go: CA pool for the Exchange client (system roots plus extra CAs)
//   - watcher.go: hot-reloaded certificate for the bridge's HTTPS listener
package tlsroots
