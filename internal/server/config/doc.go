// Package config defines the ksefbridge-server configuration.
//
//   - spec.go: BridgeConfig and its sections
//   - default.go: default values
//   - verify.go: validation run before anything starts
//   - sanitize.go: copy with secrets masked, for logging
//
// Values are loaded by internal/infra/confloader from a YAML file and
// KSEFBRIDGE_ environment variables on top of Default().
package config
