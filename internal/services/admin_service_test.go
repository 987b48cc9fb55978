package services_test

import (
	"context"
	"testing"

	"github.com/maynagashev/modhub/internal/models"
	"github.com/maynagashev/modhub/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func root() models.Identity {
	return models.Identity{ID: "root", Name: "Root"}
}

func TestAdmin_Verify(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "cool-mod", "1.0.0")

	require.NoError(t, env.admin.Verify(ctx, root(), "cool-mod"))
	mod, err := env.mods.GetMod(ctx, "cool-mod")
	require.NoError(t, err)
	assert.True(t, mod.Verified)
	assert.Len(t, env.actions(t), 2)

	// Повторная проверка ничего не пишет.
	require.NoError(t, env.admin.Verify(ctx, root(), "cool-mod"))
	assert.Len(t, env.actions(t), 2)

	require.ErrorIs(t, env.admin.Verify(ctx, root(), "missing"), services.ErrModNotFound)
}

func TestAdmin_VerifiedFlagSurvivesUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "cool-mod", "1.0.0")
	require.NoError(t, env.admin.Verify(ctx, root(), "cool-mod"))

	seedLineage(t, env, "cool-mod", "1.1.0")
	mod, err := env.mods.GetMod(ctx, "cool-mod")
	require.NoError(t, err)
	assert.True(t, mod.Verified)
	assert.Equal(t, "1.1.0", mod.Version())
}

func TestAdmin_Deny(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "cool-mod", "1.0.0", "1.1.0")

	require.NoError(t, env.admin.Deny(ctx, root(), "cool-mod"))

	_, err := env.mods.GetMod(ctx, "cool-mod")
	require.ErrorIs(t, err, services.ErrModNotFound)
	assert.Zero(t, env.files.Len())

	actions := env.actions(t)
	last := actions[len(actions)-1]
	assert.Equal(t, "root", last.ActorID)
	assert.Contains(t, last.Action, "отклонил мод")

	require.ErrorIs(t, env.admin.Deny(ctx, root(), "cool-mod"), services.ErrModNotFound)
}

func TestAdmin_DeleteVersion(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "cool-mod", "1.0.0", "1.1.0")

	require.NoError(t, env.admin.DeleteVersion(ctx, root(), "cool-mod", "1.1.0"))
	mod, err := env.mods.GetMod(ctx, "cool-mod")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", mod.Version())
}

func TestAdmin_BanBlocksUploads(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "cool-mod", "1.0.0")

	require.NoError(t, env.admin.Ban(ctx, root(), "alice"))
	res := env.upload(t, alice(), modArchive(t, "cool-mod", "1.1.0", nil), models.UploadOptions{ConfirmUpdate: true})
	assert.Equal(t, models.StatusRejected, res.Status)
	assert.Equal(t, models.ReasonBannedAuthor, res.Reason)

	require.NoError(t, env.admin.Unban(ctx, root(), "alice"))
	res = env.upload(t, alice(), modArchive(t, "cool-mod", "1.1.0", nil), models.UploadOptions{ConfirmUpdate: true})
	assert.Equal(t, models.StatusUpdated, res.Status)

	require.ErrorIs(t, env.admin.Ban(ctx, root(), "ghost"), services.ErrAuthorNotFound)
}

func TestAdmin_Roles(t *testing.T) {
	env := newTestEnv(t)
	env.trustAll()
	ctx := context.Background()
	seedLineage(t, env, "cool-mod", "1.0.0")

	tests := []struct {
		name    string
		run     func() error
		wantErr error
		want    []string
	}{
		{
			name: "Выдача роли",
			run:  func() error { return env.admin.GrantRole(ctx, root(), "alice", models.RoleAdmin) },
			want: []string{models.RoleUser, models.RoleAdmin},
		},
		{
			name: "Повторная выдача не дублирует роль",
			run:  func() error { return env.admin.GrantRole(ctx, root(), "alice", models.RoleAdmin) },
			want: []string{models.RoleUser, models.RoleAdmin},
		},
		{
			name:    "Некорректное имя роли",
			run:     func() error { return env.admin.GrantRole(ctx, root(), "alice", "Bad Role!") },
			wantErr: services.ErrInvalidRole,
			want:    []string{models.RoleUser, models.RoleAdmin},
		},
		{
			name:    "Администратор не снимает роль с себя",
			run:     func() error { return env.admin.RevokeRole(ctx, alice(), "alice", models.RoleAdmin) },
			wantErr: services.ErrSelfDemotion,
			want:    []string{models.RoleUser, models.RoleAdmin},
		},
		{
			name: "Отзыв роли другим администратором",
			run:  func() error { return env.admin.RevokeRole(ctx, root(), "alice", models.RoleAdmin) },
			want: []string{models.RoleUser},
		},
		{
			name:    "Неизвестный автор",
			run:     func() error { return env.admin.GrantRole(ctx, root(), "ghost", "moderator") },
			wantErr: services.ErrAuthorNotFound,
			want:    []string{models.RoleUser},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			author, err := env.store.Authors().GetAuthor(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, tt.want, []string(author.Permissions))
		})
	}
}
