package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/five82/printfarm/internal/app"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts app.Options

	flags := pflag.NewFlagSet("printfarm", pflag.ContinueOnError)
	flags.StringVar(&opts.ConfigPath, "config", "", "config path (default ~/.config/printfarm/config.toml)")
	flags.StringVar(&opts.Server, "server", "", "server origin, host:port or http(s) URL (overrides config)")
	flags.BoolVar(&opts.NoStream, "no-stream", false, "start with the live stream paused; poll only")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides config)")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "printfarm: %v\n", err)
		return 2
	}
	if rest := flags.Args(); len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "printfarm: unexpected argument %q\n", rest[0])
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "printfarm: %v\n", err)
		return 1
	}
	return 0
}
