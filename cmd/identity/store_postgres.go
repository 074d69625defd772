package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory over the users table.
//
// The pgx pool is owned by the caller; the directory must NOT close it.
// Schema identifiers are validated and quoted.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
	pw     PasswordConfig
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "qck").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// WithPasswordConfig sets the Argon2id cost used by CreateUser.
func WithPasswordConfig(pw PasswordConfig) PostgresOption {
	return func(d *PostgresDirectory) error {
		d.pw = pw
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: "qck",
		pw:     DefaultPasswordConfig(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

const userColumns = `id, email, password_hash, tier, created_at, updated_at`

// CreateUser hashes the password and inserts a user row.
func (d *PostgresDirectory) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, pgInvalid(op, "valid email is required")
	}
	pwHash, err := d.pw.Hash(in.Password)
	if err != nil {
		return User{}, pgInvalid(op, err.Error())
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := NewUserID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Email:        email,
		PasswordHash: pwHash,
		Tier:         NormalizeTier(in.Tier),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = d.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(d.schema, "users")+` (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		u.ID, u.Email, u.PasswordHash, u.Tier, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return u, nil
}

// GetUser loads a user by id.
func (d *PostgresDirectory) GetUser(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUser"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, pgInvalid(op, "missing id")
	}
	return d.queryOne(ctx, op, `WHERE id = $1`, id)
}

// GetUserByEmail loads a user by normalized email.
func (d *PostgresDirectory) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return User{}, pgInvalid(op, "missing email")
	}
	return d.queryOne(ctx, op, `WHERE email = $1`, email)
}

// SetTier changes a user's tier. Credentials minted afterwards carry the new
// scope; credentials already issued keep theirs until rotation.
func (d *PostgresDirectory) SetTier(ctx context.Context, id, tier string, now time.Time) error {
	const op = "identity.SetTier"

	if now.IsZero() {
		now = time.Now().UTC()
	}
	tag, err := d.pool.Exec(ctx,
		`UPDATE `+pgIdent(d.schema, "users")+` SET tier = $2, updated_at = $3 WHERE id = $1`,
		strings.TrimSpace(id), NormalizeTier(tier), now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (d *PostgresDirectory) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

func (d *PostgresDirectory) queryOne(ctx context.Context, op, where string, arg any) (User, error) {
	var u User
	err := d.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+pgIdent(d.schema, "users")+` `+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Tier, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	u.Tier = NormalizeTier(u.Tier)
	return u, nil
}

// ---- helpers ----

func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "pkey"):
		return "id", true
	default:
		return "unique", true
	}
}
