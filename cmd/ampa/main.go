// Package main provides the entry point for the ampa CLI.
package main

import "os"

func main() {
	os.Exit(Execute())
}
