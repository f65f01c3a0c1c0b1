// Package command defines the ksefbridge-cli command tree on urfave/cli/v2.
//
// Every command except validate, hash-key and config talks to a running
// ksefbridge-server over its HTTP API. Global flags override
// ~/.ksefbridge/cli.yaml and KSEFBRIDGE_CLI_* variables.
package command
