package main

import (
	"os"

	"github.com/badya367/taskmanager/cmd/taskctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
