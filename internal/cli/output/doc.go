// Package output renders ksefbridge-cli results as tables, JSON or YAML,
// and draws spinners and counters on interactive terminals.
package output
