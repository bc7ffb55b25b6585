package main

import (
	"fmt"
	"os"
)

func main() {
	app := newApp(connectServer, os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[kaleido] %v\n", err)
	os.Exit(1)
}
