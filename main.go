package main

import (
	"os"

	"github.com/kernel/chatbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
