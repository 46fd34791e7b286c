package main

import (
	"fmt"
	"os"

	"github.com/PratikDhanave/incident-bot/internal/cli"
	"github.com/PratikDhanave/incident-bot/internal/store"
)

func main() {
	if err := cli.RootCmd(store.Open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
