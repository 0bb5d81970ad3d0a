package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/tenantfs/internal/auth"
	"github.com/fruitsalade/tenantfs/internal/fileops"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "fsctl-test-secret")
	tenantName = "acme"
	defer func() { tenantName = "" }()

	cmd := newTokenCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--subject", "u-alice", "--read", "g-staff,g-ops"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.New("fsctl-test-secret").Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.Tenant)
	assert.Equal(t, "u-alice", claims.Subject)
	assert.Equal(t, []string{"g-staff", "g-ops"}, claims.AccessRead)
	assert.Contains(t, errOut.String(), "expires")
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	tenantName = "acme"
	defer func() { tenantName = "" }()

	cmd := newTokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--root"})
	assert.Error(t, cmd.Execute())
}

func TestCommandsNeedDatabase(t *testing.T) {
	databaseURL = ""
	tenantName = "acme"
	defer func() { tenantName = "" }()

	for _, cmd := range []*cobra.Command{newLsCmd(), newStatCmd(), newSizeCmd()} {
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"/data"})
		err := cmd.Execute()
		require.Error(t, err, cmd.Name())
		assert.Contains(t, err.Error(), "DATABASE_URL")
	}
}

func TestDisplayName(t *testing.T) {
	dir := fileops.FileEntry{Name: "users", Path: "/data/users/", FileType: fileops.TypeDir}
	file := fileops.FileEntry{Name: "name", Path: "/data/users/u1/name", FileType: fileops.TypeFile}
	assert.Equal(t, "users/", displayName(dir, false))
	assert.Equal(t, "/data/users/", displayName(dir, true))
	assert.Equal(t, "name", displayName(file, false))
	assert.Equal(t, "/data/users/u1/name", displayName(file, true))
}

func TestWatchNeedsToken(t *testing.T) {
	t.Setenv("TENANTFS_TOKEN", "")
	cmd := newWatchCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--server", "http://127.0.0.1:1"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TENANTFS_TOKEN")
}

func TestWatchUnreachableServer(t *testing.T) {
	cmd := newWatchCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--server", "http://127.0.0.1:1", "--token", "x"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
