package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	patAuth "github.com/MrEthical07/patAuth"
	"github.com/MrEthical07/patAuth/directory/sqlite/migrations"
	"github.com/MrEthical07/patAuth/password"
)

// ErrDuplicate is returned when a username, email or provider subject is
// already taken.
var ErrDuplicate = errors.New("directory: duplicate entry")

// Directory is a [patAuth.UserDirectory] and [patAuth.ProviderDirectory]
// backed by SQLite.
type Directory struct {
	db     *sql.DB
	hasher *password.Hasher
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a Directory.
type Option func(*Directory)

func WithLogger(l *zap.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// WithHasher replaces the default Argon2id parameters.
func WithHasher(h *password.Hasher) Option {
	return func(d *Directory) { d.hasher = h }
}

// RunMigrations applies the embedded migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens the database at dsn, migrates it and returns the directory.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string, opts ...Option) (*Directory, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return New(db, opts...)
}

// New wraps an already migrated database.
func New(db *sql.DB, opts ...Option) (*Directory, error) {
	d := &Directory{db: db, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	if d.hasher == nil {
		h, err := password.New(password.DefaultParams())
		if err != nil {
			return nil, err
		}
		d.hasher = h
	}
	return d, nil
}

func (d *Directory) Close() error {
	return d.db.Close()
}

const userColumns = `id, username, COALESCE(email, ''), display_name`

func scanUser(row interface{ Scan(...any) error }) (patAuth.User, error) {
	var (
		id int64
		u  patAuth.User
	)
	if err := row.Scan(&id, &u.Username, &u.Email, &u.DisplayName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return patAuth.User{}, patAuth.ErrUserNotFound
		}
		return patAuth.User{}, err
	}
	u.ID = strconv.FormatInt(id, 10)
	return u, nil
}

func (d *Directory) FindByID(ctx context.Context, id string) (patAuth.User, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return patAuth.User{}, patAuth.ErrUserNotFound
	}
	return scanUser(d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, n))
}

// FindByLogin matches a username, or an email when login contains "@".
func (d *Directory) FindByLogin(ctx context.Context, login string) (patAuth.User, error) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		return d.FindByEmail(ctx, login)
	}
	return scanUser(d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, login))
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (patAuth.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return patAuth.User{}, patAuth.ErrUserNotFound
	}
	return scanUser(d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// VerifyCredentials checks password against the stored hash and upgrades
// hashes made with weaker parameters.
func (d *Directory) VerifyCredentials(ctx context.Context, login, pw string) (patAuth.User, error) {
	u, err := d.FindByLogin(ctx, login)
	if err != nil {
		return patAuth.User{}, err
	}

	var hash string
	if err := d.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = ?`, u.ID).Scan(&hash); err != nil {
		return patAuth.User{}, fmt.Errorf("load password hash: %w", err)
	}
	ok, err := d.hasher.Verify(pw, hash)
	if err != nil {
		d.logger.Warn("stored password hash unreadable", zap.String("user_id", u.ID), zap.Error(err))
		return patAuth.User{}, patAuth.ErrInvalidCredentials
	}
	if !ok {
		return patAuth.User{}, patAuth.ErrInvalidCredentials
	}

	if stale, _ := d.hasher.NeedsRehash(hash); stale {
		if err := d.SetPassword(ctx, u.ID, pw); err != nil {
			d.logger.Warn("password rehash failed", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return u, nil
}

// CreateUser inserts a user with a hashed copy of nu.Password.
func (d *Directory) CreateUser(ctx context.Context, nu patAuth.NewUser) (patAuth.User, error) {
	hash, err := d.hasher.Hash(nu.Password)
	if err != nil {
		return patAuth.User{}, err
	}

	var email any
	if e := strings.TrimSpace(nu.Email); e != "" {
		email = e
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO users (username, email, display_name, first_name, last_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nu.Username, email, nu.DisplayName, nu.FirstName, nu.LastName, hash, d.now().Unix(),
	)
	if err != nil {
		return patAuth.User{}, translate(err, "create user "+nu.Username)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return patAuth.User{}, err
	}
	return d.FindByID(ctx, strconv.FormatInt(id, 10))
}

// SetPassword replaces the password of userID.
func (d *Directory) SetPassword(ctx context.Context, userID, pw string) error {
	hash, err := d.hasher.Hash(pw)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, userID)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return patAuth.ErrUserNotFound
	}
	return nil
}

func (d *Directory) FindByProviderSubject(ctx context.Context, provider, subject string) (patAuth.User, error) {
	return scanUser(d.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, COALESCE(u.email, ''), u.display_name
		FROM users u JOIN provider_identities p ON p.user_id = u.id
		WHERE p.provider = ? AND p.subject = ?`, provider, subject))
}

// LinkProviderIdentity records or replaces the provider link of userID.
// A subject already linked to another user yields ErrDuplicate.
func (d *Directory) LinkProviderIdentity(ctx context.Context, userID string, identity patAuth.ProviderIdentity) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO provider_identities (user_id, provider, subject, email, linked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET subject = excluded.subject, email = excluded.email, linked_at = excluded.linked_at`,
		userID, identity.Provider, identity.Subject, identity.Email, d.now().Unix(),
	)
	if err != nil {
		return translate(err, "link "+identity.Provider+" identity")
	}
	return nil
}

func (d *Directory) ProviderIdentity(ctx context.Context, userID, provider string) (patAuth.ProviderIdentity, error) {
	out := patAuth.ProviderIdentity{Provider: provider}
	err := d.db.QueryRowContext(ctx, `
		SELECT subject, email FROM provider_identities WHERE user_id = ? AND provider = ?`,
		userID, provider,
	).Scan(&out.Subject, &out.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return patAuth.ProviderIdentity{}, patAuth.ErrProviderIdentityNotFound
	}
	if err != nil {
		return patAuth.ProviderIdentity{}, fmt.Errorf("load provider identity: %w", err)
	}
	out.Linked = true
	return out, nil
}

func translate(err error, op string) error {
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", op, ErrDuplicate)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: %w", op, patAuth.ErrUserNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
