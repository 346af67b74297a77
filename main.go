// Package main is the entry point for the prompteval CLI.
package main

import "prompteval.dev/pkg/prompteval/cmd"

func main() {
	cmd.Execute()
}
