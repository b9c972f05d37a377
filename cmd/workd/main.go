package main

import (
	"fmt"
	"os"

	"workmgr/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "workd:", err)
		os.Exit(1)
	}
}
