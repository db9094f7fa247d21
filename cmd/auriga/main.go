package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/auriga-dsp/auriga/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "auriga",
		Usage: "Sequence decoding engine CLI",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			decodeCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(logger.WithContext(context.Background(), buildLogger()), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildLogger() logger.Logger {
	level := logger.ParseLevel(envOr("AURIGA_LOG_LEVEL", "info"))
	switch envOr("AURIGA_LOG_FORMAT", "pretty") {
	case "json":
		return logger.JSON(os.Stderr, level)
	default:
		return logger.Pretty(os.Stderr, level)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
