package accounts

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// List paging bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Accounts is the credential store. The Tx finders lock the row they
// return for the rest of the transaction on dialects that support it.
type Accounts interface {
	repository.Repository[*Account]

	FindByIdentity(ctx context.Context, identity string, opts ...SelectOption) (*Account, error)
	FindByIdentityTx(ctx context.Context, tx bun.IDB, identity string, opts ...SelectOption) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID, opts ...SelectOption) (*Account, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID, opts ...SelectOption) (*Account, error)
	FindByActivationTokenHash(ctx context.Context, hash string) (*Account, error)
	FindByActivationTokenHashTx(ctx context.Context, tx bun.IDB, hash string) (*Account, error)
	FindByResetTokenHash(ctx context.Context, hash string) (*Account, error)
	FindByResetTokenHashTx(ctx context.Context, tx bun.IDB, hash string) (*Account, error)

	Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error)
	Save(ctx context.Context, record *Account) (*Account, error)
	SaveTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error)
	Remove(ctx context.Context, id uuid.UUID) error
	RemoveTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	Search(ctx context.Context, filter ListFilter) ([]*Account, int, error)
}

// SelectOption customizes account reads
type SelectOption func(*selectOptions)

type selectOptions struct {
	credentials bool
}

// WithCredentials includes the password hash in the read.
func WithCredentials() SelectOption {
	return func(o *selectOptions) {
		o.credentials = true
	}
}

func resolveSelectOptions(opts []SelectOption) selectOptions {
	o := selectOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// ListFilter narrows an account listing. Zero values mean no constraint.
type ListFilter struct {
	Roles        []Role
	ExcludeRoles []Role
	Active       *bool
	Search       string
	Page         int
	Limit        int
}

// Normalize clamps paging to its allowed range.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// Offset returns the number of records skipped for the page
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
)

// NewAccountsRepository returns a bun backed Accounts store
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (r *accounts) FindByIdentity(ctx context.Context, identity string, opts ...SelectOption) (*Account, error) {
	return r.findByIdentity(ctx, r.db, identity, false, opts...)
}

// FindByIdentityTx resolves an email or a username. Emails are compared
// in their normalized form.
func (r *accounts) FindByIdentityTx(ctx context.Context, tx bun.IDB, identity string, opts ...SelectOption) (*Account, error) {
	return r.findByIdentity(ctx, tx, identity, true, opts...)
}

func (r *accounts) findByIdentity(ctx context.Context, tx bun.IDB, identity string, locked bool, opts ...SelectOption) (*Account, error) {
	trimmed := strings.TrimSpace(identity)
	if trimmed == "" {
		return nil, ErrNotFound
	}

	column, value := "username", trimmed
	if strings.Contains(trimmed, "@") {
		column, value = "email", NormalizeEmail(trimmed)
	}

	return r.findOne(ctx, tx, column, value, locked, opts...)
}

func (r *accounts) FindByID(ctx context.Context, id uuid.UUID, opts ...SelectOption) (*Account, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}

	o := resolveSelectOptions(opts)
	criteria := []repository.SelectCriteria{}
	if !o.credentials {
		criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.ExcludeColumn("password_hash")
		})
	}

	record, err := r.Repository.GetByID(ctx, id.String(), criteria...)
	if err != nil {
		return nil, mapReadError(err)
	}
	return record, nil
}

func (r *accounts) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID, opts ...SelectOption) (*Account, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, tx, "id", id, true, opts...)
}

func (r *accounts) FindByActivationTokenHash(ctx context.Context, hash string) (*Account, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, r.db, "activation_token_hash", hash, false)
}

func (r *accounts) FindByActivationTokenHashTx(ctx context.Context, tx bun.IDB, hash string) (*Account, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, tx, "activation_token_hash", hash, true)
}

func (r *accounts) FindByResetTokenHash(ctx context.Context, hash string) (*Account, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, r.db, "reset_token_hash", hash, false)
}

func (r *accounts) FindByResetTokenHashTx(ctx context.Context, tx bun.IDB, hash string) (*Account, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, tx, "reset_token_hash", hash, true)
}

func (r *accounts) findOne(ctx context.Context, tx bun.IDB, column string, value any, locked bool, opts ...SelectOption) (*Account, error) {
	record := &Account{}
	q := selectAccount(tx, record, column, value, locked, resolveSelectOptions(opts))

	if err := q.Scan(ctx); err != nil {
		return nil, mapReadError(err)
	}

	return record, nil
}

// selectAccount builds the single row read. A locked read takes a row lock
// on postgres so a read-modify-write inside one transaction cannot lose a
// concurrent update. sqlite serializes writers and has no FOR UPDATE.
func selectAccount(tx bun.IDB, record *Account, column string, value any, locked bool, o selectOptions) *bun.SelectQuery {
	q := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1)

	if !o.credentials {
		q = q.ExcludeColumn("password_hash")
	}

	if locked && supportsRowLocks(tx) {
		q = q.For("UPDATE")
	}

	return q
}

func supportsRowLocks(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}

func (r *accounts) Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	return r.CreateTx(ctx, r.db, record, criteria...)
}

func (r *accounts) CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	if record == nil {
		return nil, NewValidationError("account is required", nil)
	}

	prepareAccountDefaults(record)

	created, err := r.Repository.CreateTx(ctx, tx, record, criteria...)
	if err != nil {
		return nil, mapWriteError(err, "failed to create account")
	}

	return created, nil
}

func (r *accounts) Save(ctx context.Context, record *Account) (*Account, error) {
	return r.SaveTx(ctx, r.db, record)
}

// SaveTx writes every column of the record, zero values included, so a
// cleared lock or a reset counter reaches the row. A record loaded
// without credentials carries an empty hash, which is never written back.
func (r *accounts) SaveTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	if record == nil || record.ID == uuid.Nil {
		return nil, ErrNotFound
	}

	record.Email = NormalizeEmail(record.Email)

	q := tx.NewUpdate().
		Model(record).
		WherePK().
		ExcludeColumn("id", "created_at")

	if record.PasswordHash == "" {
		q = q.ExcludeColumn("password_hash")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, mapWriteError(err, "failed to save account")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	return record, nil
}

func (r *accounts) Remove(ctx context.Context, id uuid.UUID) error {
	return r.RemoveTx(ctx, r.db, id)
}

func (r *accounts) RemoveTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewDelete().
		Model((*Account)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete account")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}

// Search returns one page of accounts and the total number of matches.
// The search term matches literally, LIKE wildcards in it are escaped.
func (r *accounts) Search(ctx context.Context, filter ListFilter) ([]*Account, int, error) {
	filter = filter.Normalize()

	records := make([]*Account, 0, filter.Limit)
	q := r.db.NewSelect().
		Model(&records).
		ExcludeColumn("password_hash")

	if len(filter.Roles) > 0 {
		q = q.Where("?TableAlias.role IN (?)", bun.In(filter.Roles))
	}

	if len(filter.ExcludeRoles) > 0 {
		q = q.Where("?TableAlias.role NOT IN (?)", bun.In(filter.ExcludeRoles))
	}

	if filter.Active != nil {
		q = q.Where("?TableAlias.active = ?", *filter.Active)
	}

	if filter.Search != "" {
		pattern := "%" + EscapeLike(strings.ToLower(filter.Search)) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where(`LOWER(?TableAlias.username) LIKE ? ESCAPE '\'`, pattern).
				WhereOr(`LOWER(?TableAlias.email) LIKE ? ESCAPE '\'`, pattern)
		})
	}

	total, err := q.
		OrderExpr("?TableAlias.created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset()).
		ScanAndCount(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list accounts")
	}

	return records, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes the LIKE wildcards of s using backslash.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func prepareAccountDefaults(record *Account) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Email = NormalizeEmail(record.Email)
	if record.Role == "" {
		record.Role = RoleUser
	}
}

// IsUniqueViolation reports a unique constraint failure from sqlite or postgres.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mapReadError(err error) error {
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
}

func mapWriteError(err error, message string) error {
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message)
}
