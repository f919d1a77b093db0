// Package main provides the veil CLI for inspecting and operating the
// masking engine against a PostgreSQL database.
//
// The CLI supports:
//   - rewrite: Show how a statement is rewritten for a role
//   - label: Check, apply and list masking labels
//   - doctor: Run health checks on the masking setup
//   - config: Show the effective configuration
//
// Usage:
//
//	veil [flags] <command>
//
// Commands that read the catalog need --db, database.url in veil.yaml, or
// VEIL_DATABASE_URL.
package main

func main() {
	Execute()
}
