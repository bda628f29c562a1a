// Package main is the single-binary entrypoint for tally: a staking and
// task-consensus engine with a daemon, an HTTP API and this CLI.
package main

import "github.com/tally-network/tally/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
