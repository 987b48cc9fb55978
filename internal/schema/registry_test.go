package schema_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maynagashev/modhub/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_Default(t *testing.T) {
	reg, err := schema.NewRegistry(zap.NewNop())
	require.NoError(t, err)

	tree := reg.Current()
	require.Contains(t, tree, "modID")
	require.Contains(t, tree, "version")

	target := map[string]any{"modID": "cool-mod", "name": "Cool", "version": "1.0.0", "author": "me"}
	require.NoError(t, schema.Validate(target, tree))
	assert.Equal(t, "*", target["loaderVersionConstraint"])
	assert.Equal(t, map[string]any{}, target["dependencies"])
}

func TestRegistry_LoadBytesKeepsPreviousOnError(t *testing.T) {
	reg, err := schema.NewRegistry(nil)
	require.NoError(t, err)
	before := reg.Current()

	err = reg.LoadBytes([]byte("field:\n  type: color\n"))
	require.Error(t, err)
	assert.Equal(t, before, reg.Current())

	require.NoError(t, reg.LoadBytes([]byte("field:\n  type: string\n")))
	assert.Contains(t, reg.Current(), "field")
	assert.NotContains(t, reg.Current(), "modID")
}

func TestRegistry_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a:\n  type: string\n"), 0o600))

	reg, err := schema.NewRegistry(nil)
	require.NoError(t, err)
	require.NoError(t, reg.LoadFile(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Watch(ctx, path))

	require.NoError(t, os.WriteFile(path, []byte("b:\n  type: string\n"), 0o600))

	assert.Eventually(t, func() bool {
		_, ok := reg.Current()["b"]
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}
