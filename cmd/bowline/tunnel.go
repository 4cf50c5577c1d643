package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/bowline/pkg/browser"
	"github.com/odvcencio/bowline/pkg/tunnel"
)

// runTunnelCommand hosts the remote browser tunnel and serves until
// interrupted.
func runTunnelCommand(args []string) error {
	cfg, err := runLoadConfigFn()
	if err != nil {
		return withExitCode(err, 2)
	}

	fs := flag.NewFlagSet("tunnel", flag.ContinueOnError)
	host := fs.String("host", cfg.Tunnel.Host, "interface to bind (empty for all)")
	port := fs.Int("port", cfg.Tunnel.Port, "port to listen on")
	secret := fs.String("secret", cfg.Tunnel.Secret, "shared secret callers must present")
	binary := fs.String("browser-binary", cfg.Tunnel.Binary, "path to the browser executable")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	logger, _, lerr := buildLoggers(cfg, "tunnel-"+ulid.Make().String())
	if lerr != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", lerr)
	}
	if logger != nil {
		defer logger.Close()
	}

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "warning: no secret configured; any caller may launch browsers")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := tunnel.NewServer(tunnel.Config{
		Host:   *host,
		Port:   *port,
		Secret: *secret,
		BrowserOptions: browser.Options{
			Binary: *binary,
			Logger: logger,
		},
		Logger: logger,
	})

	fmt.Printf("Bowline tunnel listening on %s\n", net.JoinHostPort(*host, strconv.Itoa(*port)))
	if err := srv.Start(ctx); err != nil {
		return withExitCode(err, 1)
	}
	return nil
}
