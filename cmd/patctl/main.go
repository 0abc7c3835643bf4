// Command patctl is the operator tool for the token store.
//
//	patctl [-config patauth.yml] <command> [flags] [args]
//
// Commands:
//
//	create <user> [--user-agent ua] [--ip addr]   issue a token and refresh token
//	view <token>                                  decode a token without verifying it
//	list [--user id] [--page n] [--per-page n] [--field name]
//	cleanup [--batch-size n] [--force]            remove expired sessions, or all with --force
//	destroy <user> [--pat id] [--force]           revoke one or every session of a user
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	patAuth "github.com/MrEthical07/patAuth"
	"github.com/MrEthical07/patAuth/directory/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("patctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", patAuth.DefaultConfigPath, "Path to YAML config file")
	global.Usage = func() {
		fmt.Fprintln(stderr, "usage: patctl [-config file] <create|view|list|cleanup|destroy> [flags] [args]")
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "patctl: unknown command %q\n", name)
		global.Usage()
		return 2
	}

	cfg, err := patAuth.LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "patctl: %v\n", err)
		return 1
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	c, closeAll, err := open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "patctl: %v\n", err)
		return 1
	}
	defer closeAll()

	c.stdin, c.stdout, c.stderr = stdin, stdout, stderr
	c.interactive = func() bool {
		f, ok := stdin.(*os.File)
		return ok && term.IsTerminal(int(f.Fd()))
	}

	if err := cmd(c, ctx, global.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "patctl %s: %v\n", name, err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func open(ctx context.Context, cfg *patAuth.FileConfig, logger *zap.Logger) (*cli, func(), error) {
	dir, err := sqlite.Open(ctx, cfg.Database.Path, sqlite.WithLogger(logger.Named("directory")))
	if err != nil {
		return nil, nil, fmt.Errorf("open user directory: %w", err)
	}
	rdb := cfg.Redis.NewClient()

	engine, err := patAuth.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithLogger(logger).
		WithUserDirectory(dir).
		WithProviderDirectory(dir).
		Build()
	if err != nil {
		_ = rdb.Close()
		_ = dir.Close()
		return nil, nil, err
	}

	closeAll := func() {
		engine.Close()
		_ = rdb.Close()
		_ = dir.Close()
	}
	return &cli{engine: engine}, closeAll, nil
}
