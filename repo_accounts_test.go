package accounts_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	accounts "github.com/goliatone/go-accounts"
)

func TestAccountsRepository_CreateAndFind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	repo := env.repo.Accounts()
	now := env.clock.Now()

	created, err := repo.Create(ctx, accounts.NewAccount("alice", "Alice@X.com", "hash", accounts.RoleUser, now))
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", created.Email)

	t.Run("email lookups ignore case", func(t *testing.T) {
		found, err := repo.FindByIdentity(ctx, "  ALICE@x.COM ")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("username lookup", func(t *testing.T) {
		found, err := repo.FindByIdentity(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("credentials are opt in", func(t *testing.T) {
		found, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Empty(t, found.PasswordHash)

		found, err = repo.FindByID(ctx, created.ID, accounts.WithCredentials())
		require.NoError(t, err)
		assert.Equal(t, "hash", found.PasswordHash)
	})

	t.Run("missing records", func(t *testing.T) {
		_, err := repo.FindByIdentity(ctx, "bob@x.com")
		assert.True(t, accounts.IsNotFound(err))

		_, err = repo.FindByIdentity(ctx, "   ")
		assert.True(t, accounts.IsNotFound(err))

		_, err = repo.FindByID(ctx, uuid.Nil)
		assert.True(t, accounts.IsNotFound(err))

		_, err = repo.FindByActivationTokenHash(ctx, "")
		assert.True(t, accounts.IsNotFound(err))
	})
}

func TestAccountsRepository_Conflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	repo := env.repo.Accounts()
	now := env.clock.Now()

	_, err := repo.Create(ctx, accounts.NewAccount("alice", "a@x.com", "hash", accounts.RoleUser, now))
	require.NoError(t, err)

	_, err = repo.Create(ctx, accounts.NewAccount("other", "A@X.COM", "hash", accounts.RoleUser, now))
	assert.Equal(t, accounts.TextCodeConflict, textCode(err))

	_, err = repo.Create(ctx, accounts.NewAccount("alice", "b@x.com", "hash", accounts.RoleUser, now))
	assert.Equal(t, accounts.TextCodeConflict, textCode(err))
}

func TestAccountsRepository_SaveKeepsHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	repo := env.repo.Accounts()
	now := env.clock.Now()

	created, err := repo.Create(ctx, accounts.NewAccount("alice", "a@x.com", "hash", accounts.RoleUser, now))
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	found.Username = "alice2"
	found.SetPasswordReset("reset-hash", now.Add(time.Hour))
	_, err = repo.Save(ctx, found)
	require.NoError(t, err)

	reloaded := env.reload(t, created)
	assert.Equal(t, "alice2", reloaded.Username)
	assert.Equal(t, "hash", reloaded.PasswordHash)

	byReset, err := repo.FindByResetTokenHash(ctx, "reset-hash")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byReset.ID)

	_, err = repo.Save(ctx, accounts.NewAccount("ghost", "g@x.com", "hash", accounts.RoleUser, now))
	assert.True(t, accounts.IsNotFound(err))
}

func TestAccountsRepository_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, "alice", accounts.RoleUser)

	require.NoError(t, env.repo.Accounts().Remove(ctx, account.ID))
	assert.True(t, accounts.IsNotFound(env.repo.Accounts().Remove(ctx, account.ID)))
}

func TestAccountsRepository_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedAccount(t, "alice", accounts.RoleUser)
	env.clock.Advance(time.Second)
	env.seedAccount(t, "bob", accounts.RoleUser)
	env.clock.Advance(time.Second)
	env.seedAccount(t, "carol", accounts.RoleAdmin)
	env.clock.Advance(time.Second)
	env.seedAccount(t, "root", accounts.RoleSuperAdmin)

	records, total, err := env.repo.Accounts().Search(ctx, accounts.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, records, 4)
	assert.Equal(t, "root", records[0].Username, "newest first")
	for _, r := range records {
		assert.Empty(t, r.PasswordHash)
	}

	records, total, err = env.repo.Accounts().Search(ctx, accounts.ListFilter{
		ExcludeRoles: []accounts.Role{accounts.RoleSuperAdmin},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, records, 3)

	records, total, err = env.repo.Accounts().Search(ctx, accounts.ListFilter{Search: "B@EXAMPLE"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "bob", records[0].Username)

	inactive := false
	_, total, err = env.repo.Accounts().Search(ctx, accounts.ListFilter{Active: &inactive})
	require.NoError(t, err)
	assert.Zero(t, total)

	records, total, err = env.repo.Accounts().Search(ctx, accounts.ListFilter{Limit: 3, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].Username)
}

func TestAccountsRepository_SearchIsLiteral(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedAccount(t, "a_b", accounts.RoleUser)
	env.seedAccount(t, "axb", accounts.RoleUser)
	env.seedAccount(t, "100%club", accounts.RoleUser)

	tests := []struct {
		search string
		want   []string
	}{
		{"a_b", []string{"a_b"}},
		{"%", []string{"100%club"}},
		{"_", []string{"a_b"}},
		{`\`, nil},
		{"axb", []string{"axb"}},
	}

	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			records, total, err := env.repo.Accounts().Search(ctx, accounts.ListFilter{Search: tt.search})
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), total)

			names := []string{}
			for _, r := range records {
				names = append(names, r.Username)
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, accounts.EscapeLike("100%"))
	assert.Equal(t, `a\_b`, accounts.EscapeLike("a_b"))
	assert.Equal(t, `c:\\tmp`, accounts.EscapeLike(`c:\tmp`))
	assert.Equal(t, "plain", accounts.EscapeLike("plain"))
}

func TestSelectAccount_RowLocks(t *testing.T) {
	sqldb, err := sql.Open("pgx", "postgres://accounts@127.0.0.1:1/none")
	require.NoError(t, err)
	pg := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = pg.Close() })

	env := newTestEnv(t)

	assert.Contains(t, accounts.SelectAccountSQL(pg, "email", "a@x.com", true), "FOR UPDATE")
	assert.NotContains(t, accounts.SelectAccountSQL(pg, "email", "a@x.com", false), "FOR UPDATE")
	assert.NotContains(t, accounts.SelectAccountSQL(env.db, "email", "a@x.com", true), "FOR UPDATE",
		"sqlite has no row locks")
}

func TestAccountsRepository_GenericAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.seedAccount(t, "alice", accounts.RoleUser)

	found, err := env.repo.Accounts().GetByIdentifier(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)

	found, err = env.repo.Accounts().GetByID(ctx, account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Username)
}

func TestListFilter_Normalize(t *testing.T) {
	f := accounts.ListFilter{Page: -1, Limit: 500, Search: "  bob "}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, accounts.MaxListLimit, f.Limit)
	assert.Equal(t, "bob", f.Search)
	assert.Zero(t, f.Offset())

	f = accounts.ListFilter{Page: 3}.Normalize()
	assert.Equal(t, accounts.DefaultListLimit, f.Limit)
	assert.Equal(t, 2*accounts.DefaultListLimit, f.Offset())
}

func TestRepositoryManager(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.NoError(t, env.repo.Validate())
	assert.NoError(t, env.repo.Ping(ctx))
	assert.NoError(t, env.repo.Migrate(ctx), "migrations are idempotent")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := env.repo.RunInTx(cancelled, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
