package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.WithError(err).Error("application error")
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:           "now-playing",
		Usage:          "Serve your Spotify now-playing state to the web",
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			serveCommand(),
			fetchCommand(),
			healthcheckCommand(),
		},
	}
}
