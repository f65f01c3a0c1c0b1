// Package config holds the ksefbridge-cli settings (~/.ksefbridge/cli.yaml).
//
// Sources, lowest priority first: built-in defaults, the YAML file and
// KSEFBRIDGE_CLI_* environment variables. Command-line flags are applied
// on top by the command package.
package config
