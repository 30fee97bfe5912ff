package main

import (
	"fmt"
	"os"

	"github.com/jrife/kvgate/cli"
)

func main() {
	config := cli.NewConfig()

	if err := cli.Cli(os.Args[1:], config); err != nil {
		fmt.Fprintf(config.Stderr, "%s: %s\n", config.Name, err)
		os.Exit(1)
	}
}
