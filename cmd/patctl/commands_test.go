package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	patAuth "github.com/MrEthical07/patAuth"
	"github.com/MrEthical07/patAuth/directory/sqlite"
)

type harness struct {
	cli    *cli
	stdin  *strings.Reader
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	tty    bool
	userID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	dir, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	u, err := dir.CreateUser(ctx, patAuth.NewUser{Username: "frank", Password: "frank-password-1"})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := patAuth.DefaultConfig()
	cfg.JWT.SigningKey = []byte("patctl-test-key-0123456789abcdef")
	engine, err := patAuth.New().WithConfig(cfg).WithRedis(rdb).WithUserDirectory(dir).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	h := &harness{stdin: strings.NewReader(""), stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, userID: u.ID}
	h.cli = &cli{
		engine:      engine,
		stdin:       h.stdin,
		stdout:      h.stdout,
		stderr:      h.stderr,
		interactive: func() bool { return h.tty },
	}
	return h
}

func (h *harness) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	h.stdout.Reset()
	err := commands[args[0]](h.cli, context.Background(), args[1:])
	return h.stdout.String(), err
}

func field(out, name string) string {
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, name+":"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func TestParseInterspersedFlags(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	ip := fs.String("ip", "", "")
	force := fs.Bool("force", false, "")

	pos, err := parse(fs, []string{"alice", "--ip", "10.0.0.1", "--force"}, 1, "t <user>")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, pos)
	assert.Equal(t, "10.0.0.1", *ip)
	assert.True(t, *force)

	_, err = parse(fs, []string{"a", "b"}, 1, "t <user>")
	assert.ErrorIs(t, err, errUsage)
	_, err = parse(fs, nil, 1, "t <user>")
	assert.ErrorIs(t, err, errUsage)
	_, err = parse(fs, []string{"--nope"}, 0, "t")
	assert.ErrorIs(t, err, errUsage)
}

func TestCreateAndView(t *testing.T) {
	h := newHarness(t)

	out, err := h.exec(t, "create", "frank", "--ip", "198.51.100.4", "--user-agent", "curl/8")
	require.NoError(t, err)
	assert.Equal(t, h.userID, field(out, "user_id"))
	token := field(out, "token")
	require.NotEmpty(t, token)
	require.NotEmpty(t, field(out, "refresh_token"))

	out, err = h.exec(t, "view", token)
	require.NoError(t, err)
	assert.Contains(t, out, "header:")
	assert.Contains(t, out, "data.user.username")
	assert.Contains(t, out, "198.51.100.4")

	_, err = h.exec(t, "view", "not-a-token")
	assert.ErrorIs(t, err, patAuth.ErrMalformedToken)

	_, err = h.exec(t, "create", "nobody")
	assert.Error(t, err)
	_, err = h.exec(t, "create")
	assert.ErrorIs(t, err, errUsage)
}

func TestListSessions(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		_, err := h.exec(t, "create", "frank")
		require.NoError(t, err)
	}

	out, err := h.exec(t, "list", "--per-page", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "USER_ID")
	assert.Contains(t, out, "page 1 of 2, 3 sessions")

	out, err = h.exec(t, "list", "--page", "2", "--per-page", "2", "--field", "pat")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(out), 1)

	_, err = h.exec(t, "list", "--field", "password")
	assert.ErrorIs(t, err, errUsage)
	_, err = h.exec(t, "list", "--page", "0")
	assert.ErrorIs(t, err, errUsage)
}

func TestCleanupForceWipes(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "create", "frank")
	require.NoError(t, err)

	out, err := h.exec(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 JWT tokens")

	out, err = h.exec(t, "cleanup", "--force", "--batch-size", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 JWT tokens and 1 refresh tokens")

	n, err := h.cli.engine.ActiveSessionCount(context.Background(), h.userID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDestroyConfirmation(t *testing.T) {
	h := newHarness(t)
	out, err := h.exec(t, "create", "frank")
	require.NoError(t, err)
	pat := field(out, "pat")
	_, err = h.exec(t, "create", "frank")
	require.NoError(t, err)

	// Not a terminal and no --force: refuse.
	_, err = h.exec(t, "destroy", h.userID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	h.tty = true
	h.stdin.Reset("n\n")
	out, err = h.exec(t, "destroy", h.userID, "--pat", pat)
	require.NoError(t, err)
	assert.Contains(t, out, "aborted")

	h.stdin.Reset("yes\n")
	out, err = h.exec(t, "destroy", h.userID, "--pat", pat)
	require.NoError(t, err)
	assert.Contains(t, out, "destroyed session "+pat)

	_, err = h.exec(t, "destroy", h.userID, "--pat", pat, "--force")
	assert.ErrorIs(t, err, patAuth.ErrSessionNotFound)

	out, err = h.exec(t, "destroy", "--force", h.userID)
	require.NoError(t, err)
	assert.Contains(t, out, "destroyed 1 JWT tokens and 1 refresh tokens")
}

func TestRunUsageErrors(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), nil, strings.NewReader(""), &bytes.Buffer{}, &stderr))
	assert.Equal(t, 2, run(context.Background(), []string{"explode"}, strings.NewReader(""), &bytes.Buffer{}, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "explode"`)

	missing := filepath.Join(t.TempDir(), "absent.yml")
	assert.Equal(t, 1, run(context.Background(), []string{"-config", missing, "list"}, strings.NewReader(""), &bytes.Buffer{}, &stderr))
}

func TestRunEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "patauth.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
jwt:
  signing_key: patctl-run-key-0123456789abcdefgh
redis:
  addr: `+mr.Addr()+`
database:
  path: `+filepath.Join(dir, "users.db")+`
`), 0o600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "list"}, strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "page 1 of 1, 0 sessions")

	code = run(context.Background(), []string{"-config", cfgPath, "destroy", "1"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "not a terminal")
}
