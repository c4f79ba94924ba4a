package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "uxfs",
		Usage: "drive a uxfs image from an interactive shell",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Required: true, Usage: "path to the backing image file"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func run(c *cli.Context) error {
	shell := newShell(c.String("image"), os.Stdin, os.Stdout, os.Stderr)
	shell.run()
	return nil
}
