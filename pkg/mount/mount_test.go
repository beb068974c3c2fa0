package mount

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levalup/quickdist/pkg/msg"
)

func TestNodeIDPersists(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	first, err := NodeID()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := NodeID()
	require.NoError(t, err)
	assert.Equal(t, first, second, "node id must be stable across accesses")
}

func TestNodeIDDiffersPerHome(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	a, err := NodeID()
	require.NoError(t, err)

	t.Setenv("HOME", t.TempDir())
	b, err := NodeID()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSSHFSCodecRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	desc, err := NewSSHFS()
	require.NoError(t, err)
	desc.SetAddress("share.example.com", 2222).
		SetCredentials("worker", "secret").
		SetWorkdir("/srv/share", "").
		SetWorkdir("/srv/video", "video").
		SetTempdir("/srv/staging")

	data, err := msg.Encode(msg.New("MOUNT", desc))
	require.NoError(t, err)

	got, err := msg.Decode(data)
	require.NoError(t, err)
	require.Len(t, got.Args, 1)

	lifted, ok := got.Args[0].(*SSHFS)
	require.True(t, ok, "descriptor should lift back into its concrete type")
	assert.Equal(t, desc, lifted)

	// The lifted value satisfies the mount contract.
	_, ok = got.Args[0].(Mount)
	assert.True(t, ok)
}

func TestSSHFSScript(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	desc, err := NewSSHFS()
	require.NoError(t, err)
	desc.SetAddress("host1", 22).
		SetCredentials("alice", "").
		SetWorkdir("/srv/share", "").
		SetTempdir("/srv/staging")

	script := desc.script()
	assert.Contains(t, script, "manage_mount_path")
	assert.Contains(t, script, `mount_sshfs`)
	assert.Contains(t, script, "/srv/share")
	assert.Contains(t, script, "/srv/staging")
	assert.Contains(t, script, "alice")
}

func TestSSHFSEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	desc, err := NewSSHFS()
	require.NoError(t, err)
	desc.SetAddress("host1", 22).
		SetCredentials("alice", "").
		SetWorkdir("/srv/share", "").
		SetWorkdir("/srv/video", "video").
		SetTempdir("/srv/staging")

	env := map[string]string{}
	for _, kv := range desc.env() {
		env[kv[0]] = kv[1]
	}

	root := desc.mountRoot()
	assert.Equal(t, filepath.Join(root, "_srv_staging"), env["TEMPDIR"])
	assert.Equal(t, filepath.Join(root, "_srv_share"), env["WORKDIR"])
	assert.Equal(t, filepath.Join(root, "_srv_video"), env["WORKDIR_VIDEO"])
}

// TestMountOnOwnHost verifies the creator's node hosts its shares through
// symlinks and points the tiers at the hosting directory.
func TestMountOnOwnHost(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TMPDIR", t.TempDir())
	t.Setenv("WORKDIR", "")
	t.Setenv("WORKDIR_VIDEO", "")
	t.Setenv("LOCALDIR", "")
	t.Setenv("TEMPDIR", "")

	share := t.TempDir()
	video := t.TempDir()

	desc, err := NewSSHFS()
	require.NoError(t, err)
	desc.SetAddress("ignored", 22).
		SetWorkdir(share, "").
		SetWorkdir(video, "video")

	require.NoError(t, desc.Mount())

	root := hostingRoot()
	assert.Equal(t, root, os.Getenv("LOCALDIR"))
	assert.Equal(t, root, os.Getenv("TEMPDIR"))
	assert.Equal(t, share, os.Getenv("WORKDIR"))
	assert.Equal(t, video, os.Getenv("WORKDIR_VIDEO"))

	link, err := os.Readlink(filepath.Join(root, "__root__"))
	require.NoError(t, err)
	assert.Equal(t, share, link)

	link, err = os.Readlink(filepath.Join(root, "video"))
	require.NoError(t, err)
	assert.Equal(t, video, link)
}
