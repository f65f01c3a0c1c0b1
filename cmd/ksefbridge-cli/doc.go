// Package main provides the entry point for ksefbridge-cli.
//
// ksefbridge-cli validates invoice documents offline and operates a
// ksefbridge-server over its HTTP API, either one command at a time or
// from the interactive shell.
package main
