package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	patAuth "github.com/MrEthical07/patAuth"
)

var errUsage = errors.New("usage")

type cli struct {
	engine      *patAuth.Engine
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	interactive func() bool
}

type command func(c *cli, ctx context.Context, args []string) error

var commands = map[string]command{
	"create":  (*cli).create,
	"view":    (*cli).view,
	"list":    (*cli).list,
	"cleanup": (*cli).cleanup,
	"destroy": (*cli).destroy,
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parse accepts flags before and after positional arguments and checks the
// positional count.
func parse(fs *flag.FlagSet, args []string, want int, usage string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
	if len(positional) != want {
		return nil, fmt.Errorf("%w: %s", errUsage, usage)
	}
	return positional, nil
}

func (c *cli) create(ctx context.Context, args []string) error {
	fs := c.flags("create")
	ua := fs.String("user-agent", "", "device header value to bind the token to")
	ip := fs.String("ip", "", "client address to bind the token to")
	pos, err := parse(fs, args, 1, "create <user> [--user-agent ua] [--ip addr]")
	if err != nil {
		return err
	}

	issued, err := c.engine.IssueToken(ctx, pos[0], patAuth.ClientContext{IP: *ip, Device: *ua})
	if err != nil {
		return err
	}
	refresh, err := c.engine.IssueRefreshToken(ctx, issued.UserID, issued.PAT)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "user_id:       %s\n", issued.UserID)
	fmt.Fprintf(c.stdout, "pat:           %s\n", issued.PAT)
	fmt.Fprintf(c.stdout, "expires_at:    %s\n", issued.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(c.stdout, "token:         %s\n", issued.Token)
	fmt.Fprintf(c.stdout, "refresh_token: %s\n", refresh)
	if issued.Evicted > 0 {
		fmt.Fprintf(c.stdout, "evicted:       %d\n", issued.Evicted)
	}
	return nil
}

func (c *cli) view(_ context.Context, args []string) error {
	pos, err := parse(c.flags("view"), args, 1, "view <token>")
	if err != nil {
		return err
	}

	v, err := c.engine.InspectToken(pos[0])
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	fmt.Fprintln(c.stdout, "header:")
	printFields(c.stdout, v.Header)
	fmt.Fprintln(c.stdout, "payload:")
	printFields(c.stdout, v.Payload)
	return nil
}

func printFields(w io.Writer, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%v\n", k, fields[k])
	}
	tw.Flush()
}

var listFields = map[string]func(patAuth.SessionInfo) string{
	"user_id":            func(s patAuth.SessionInfo) string { return s.UserID },
	"pat":                func(s patAuth.SessionInfo) string { return s.PAT },
	"token":              func(s patAuth.SessionInfo) string { return s.Token },
	"created":            func(s patAuth.SessionInfo) string { return formatTime(s.Created) },
	"last_used":          func(s patAuth.SessionInfo) string { return formatTime(s.LastUsed) },
	"expires_at":         func(s patAuth.SessionInfo) string { return formatTime(s.ExpiresAt) },
	"refresh_expires_at": func(s patAuth.SessionInfo) string { return formatTime(s.RefreshExpiresAt) },
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := c.flags("list")
	user := fs.String("user", "", "only list sessions of this user id")
	page := fs.Int("page", 1, "page number, starting at 1")
	perPage := fs.Int("per-page", 20, "sessions per page")
	field := fs.String("field", "", "print one raw column: user_id, pat, token, created, last_used, expires_at, refresh_expires_at")
	if _, err := parse(fs, args, 0, "list [--user id] [--page n] [--per-page n] [--field name]"); err != nil {
		return err
	}
	if *page < 1 || *perPage < 1 {
		return fmt.Errorf("%w: --page and --per-page must be >= 1", errUsage)
	}

	var pick func(patAuth.SessionInfo) string
	if *field != "" {
		var ok bool
		if pick, ok = listFields[*field]; !ok {
			return fmt.Errorf("%w: unknown field %q", errUsage, *field)
		}
	}

	res, err := c.engine.ListSessions(ctx, *user, *page, *perPage)
	if err != nil {
		return err
	}

	if pick != nil {
		for _, s := range res.Sessions {
			fmt.Fprintln(c.stdout, pick(s))
		}
		return nil
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER_ID\tPAT\tTOKEN\tCREATED\tLAST_USED\tREFRESH_EXPIRES")
	for _, s := range res.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.UserID, s.PAT, truncate(s.Token, 24), formatTime(s.Created), formatTime(s.LastUsed), formatTime(s.RefreshExpiresAt))
	}
	tw.Flush()

	pages := (res.Total + *perPage - 1) / *perPage
	fmt.Fprintf(c.stdout, "page %d of %d, %d sessions\n", *page, max(pages, 1), res.Total)
	return nil
}

func (c *cli) cleanup(ctx context.Context, args []string) error {
	fs := c.flags("cleanup")
	batch := fs.Int("batch-size", 100, "users per batch")
	force := fs.Bool("force", false, "delete every session and refresh token, not only expired ones")
	if _, err := parse(fs, args, 0, "cleanup [--batch-size n] [--force]"); err != nil {
		return err
	}
	if *batch < 1 {
		return fmt.Errorf("%w: --batch-size must be >= 1", errUsage)
	}

	progress := func(r patAuth.CleanupReport) {
		fmt.Fprintf(c.stderr, "batch %d: %d users, %d tokens, %d refresh tokens\n", r.Batches, r.Users, r.Tokens, r.RefreshTokens)
	}

	sweep := c.engine.CleanupExpired
	if *force {
		sweep = c.engine.WipeAll
	}
	report, err := sweep(ctx, *batch, progress)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "removed %d JWT tokens and %d refresh tokens across %d users in %s\n",
		report.Tokens, report.RefreshTokens, report.Users, report.Duration.Round(time.Millisecond))
	if report.Failures > 0 {
		return fmt.Errorf("%d users could not be cleaned", report.Failures)
	}
	return nil
}

func (c *cli) destroy(ctx context.Context, args []string) error {
	fs := c.flags("destroy")
	pat := fs.String("pat", "", "destroy only this session")
	force := fs.Bool("force", false, "skip the confirmation prompt")
	pos, err := parse(fs, args, 1, "destroy <user> [--pat id] [--force]")
	if err != nil {
		return err
	}
	userID := pos[0]

	if !*force {
		target := "every session of " + userID
		if *pat != "" {
			target = "session " + *pat + " of " + userID
		}
		ok, err := c.confirm("Destroy " + target + "?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(c.stdout, "aborted")
			return nil
		}
	}

	if *pat != "" {
		existed, err := c.engine.DestroySession(ctx, userID, *pat)
		if err != nil {
			return err
		}
		if !existed {
			return patAuth.ErrSessionNotFound
		}
		fmt.Fprintf(c.stdout, "destroyed session %s of %s\n", *pat, userID)
		return nil
	}

	report, err := c.engine.DestroyAllSessions(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "destroyed %d JWT tokens and %d refresh tokens of %s\n", report.Tokens, report.RefreshTokens, userID)
	return nil
}

func (c *cli) confirm(question string) (bool, error) {
	if c.interactive == nil || !c.interactive() {
		return false, errors.New("stdin is not a terminal; pass --force to destroy without confirmation")
	}
	fmt.Fprintf(c.stdout, "%s [y/N]: ", question)
	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
