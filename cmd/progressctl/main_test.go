package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Usage(t *testing.T) {
	t.Setenv("LOCAL_STORE", "memory")

	for _, args := range [][]string{nil, {"modules"}, {"complete", "u1"}, {"explode", "u1"}} {
		err := run(context.Background(), args, &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage, "args %v", args)
	}
}

func TestRun_CompleteWithoutRemoteStaysLocal(t *testing.T) {
	t.Setenv("LOCAL_STORE", "memory")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"complete", "u1", "basics"}, &out))
	assert.Equal(t, "u1: basics (local_only)\n", out.String())
}

func TestRun_SQLiteStorePersistsBetweenRuns(t *testing.T) {
	t.Setenv("LOCAL_STORE", "sqlite")
	t.Setenv("LOCAL_STORE_PATH", filepath.Join(t.TempDir(), "progress.db"))
	ctx := context.Background()

	require.NoError(t, run(ctx, []string{"complete", "u1", "basics"}, &bytes.Buffer{}))
	require.NoError(t, run(ctx, []string{"complete", "u1", "advanced"}, &bytes.Buffer{}))

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-json", "modules", "u1"}, &out))
	var modules []string
	require.NoError(t, json.Unmarshal(out.Bytes(), &modules))
	assert.Equal(t, []string{"advanced", "basics"}, modules)

	out.Reset()
	require.NoError(t, run(ctx, []string{"scopes"}, &out))
	assert.Equal(t, "u1\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, []string{"reset", "u1"}, &out))
	out.Reset()
	require.NoError(t, run(ctx, []string{"modules", "u1"}, &out))
	assert.Empty(t, out.String())
}
