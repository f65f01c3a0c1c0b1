// Package main provides the entry point for ksefbridge-server.
//
// ksefbridge-server is the long-running process of ksefbridge. It submits
// structured invoices to the national e-invoicing Exchange on behalf of
// registered tenants, mirrors received and issued documents on a schedule
// and serves the HTTP API used by ksefbridge-cli.
//
// Usage:
//
//	ksefbridge-server -config /etc/ksefbridge/ksefbridge.yaml
//
// Every setting can be overridden with KSEFBRIDGE_ environment variables,
// sections separated by a double underscore:
//
//	KSEFBRIDGE_SERVER__HTTP__ADDR=0.0.0.0:5380
package main
