package main

import (
	"os"

	"github.com/taskmesh/taskmesh-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
