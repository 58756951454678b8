package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocr/internal/config"
	"aocr/internal/db"
	"aocr/internal/migrate"
	"aocr/internal/repo"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	return Service{Repo: repo.Repo{DB: conn, Dialect: dialect}, Config: config.Default()}
}

func TestBootstrapThenAdminOnly(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Assign(ctx, "admin-1", AdminRole, "admin-1")
	require.NoError(t, err)

	_, err = s.Assign(ctx, "fin-1", "Financiero", "admin-1")
	require.NoError(t, err)

	_, err = s.Assign(ctx, "fin-2", "Financiero", "fin-1")
	var forbidden ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, AdminRole, forbidden.Role)

	roles, err := s.RolesOf(ctx, "fin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Financiero"}, roles)
}

func TestAssignIsIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, err := s.Assign(ctx, "admin-1", AdminRole, "admin-1")
	require.NoError(t, err)
	_, err = s.Assign(ctx, "admin-1", AdminRole, "admin-1")
	require.NoError(t, err)

	grants, err := s.Grants(ctx, "admin-1")
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestAssignRejectsDerivedAndUnknownRoles(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	for _, role := range []string{OwnerRole, SystemRole, "Pilot"} {
		_, err := s.Assign(ctx, "someone", role, "someone")
		var unknown UnknownRoleError
		require.ErrorAs(t, err, &unknown, role)
	}
}

func TestRevoke(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, err := s.Assign(ctx, "admin-1", AdminRole, "admin-1")
	require.NoError(t, err)
	_, err = s.Assign(ctx, "leg-1", "Legal", "admin-1")
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, "leg-1", "Legal", "admin-1"))
	roles, err := s.RolesOf(ctx, "leg-1")
	require.NoError(t, err)
	assert.Empty(t, roles)

	assert.ErrorIs(t, s.Revoke(ctx, "leg-1", "Legal", "admin-1"), repo.ErrNotFound)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"Financiero", "Legal"}, Normalize([]string{" Legal", "Owner", "Financiero", "System", "Legal", ""}))
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, err := s.Assign(ctx, "admin-1", AdminRole, "admin-1")
	require.NoError(t, err)

	plain, key, err := s.IssueAPIKey(ctx, "", "laptop", "op-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", key.ActorID)
	assert.NotEqual(t, plain, key.KeyHash)

	found, err := s.Authenticate(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, key.ID, found.ID)

	_, err = s.Authenticate(ctx, plain+"x")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, _, err = s.IssueAPIKey(ctx, "fin-1", "", "op-1")
	var forbidden ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	_, _, err = s.IssueAPIKey(ctx, SystemActorID, "", "admin-1")
	require.Error(t, err)

	require.ErrorAs(t, s.RevokeAPIKey(ctx, key.ID, "fin-1"), &forbidden)
	require.NoError(t, s.RevokeAPIKey(ctx, key.ID, "op-1"))
	_, err = s.Authenticate(ctx, plain)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
