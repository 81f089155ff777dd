// Package main is the entry point for the rosterlink CLI tool, which matches
// free-text roster handles from historical league game logs to canonical user
// ids from the karma ranking source.
package main

import "github.com/rklstats/rosterlink/cmd"

func main() {
	cmd.Execute()
}
