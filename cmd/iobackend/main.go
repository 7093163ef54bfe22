// Command iobackend drives a configured storage backend from the shell.
//
// Usage:
//
//	iobackend [-config path] [-metrics] <command> [flags] [name]
//
// Commands: init, create, write, read, stat, sync, list, delete. Every
// command opens the backend described by the configuration, performs one
// operation and releases the backend again.
package main

import (
	"os"

	"github.com/konradgithuup/io-backends/internal/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
