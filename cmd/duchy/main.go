package main

import (
	"fmt"
	"os"

	"github.com/duchynet/duchy/cmd/duchy/cli"
)

func main() {
	app := cli.CLI()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
