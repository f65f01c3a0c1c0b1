// Package repl is the interactive mode of ksefbridge-cli ("ksefbridge-cli
// shell"). Each line is split into arguments and handed to an Executor,
// normally the CLI command tree itself.
//
// Built-ins: exit, quit, history, and a trailing "?" to list the commands
// that complete the line, e.g. "tenant ?".
package repl
