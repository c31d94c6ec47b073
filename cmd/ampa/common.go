package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/metalagman/ampa/internal/config"
)

// exitError carries a specific process exit code out of a command. A nil
// wrapped error exits silently; the command already printed what it wanted.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int) error {
	return &exitError{code: code}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
}

// loadConfig resolves the project root (--project flag or the working
// directory) and loads the configuration for it.
func loadConfig() (*config.Config, error) {
	root := projectDir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	return config.Load(root)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
