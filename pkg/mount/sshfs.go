package mount

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/levalup/quickdist/pkg/log"
)

//go:embed scripts/mount_sshfs.sh
var sshfsHelpers string

// SSHFS mounts the orchestrator's shares on worker nodes over sshfs. The
// descriptor is built on the orchestrator, records that host's node id and
// share paths, and is shipped to every node. The creator's own node hosts
// the shares through symlinks instead of mounting itself.
type SSHFS struct {
	NodeID   string
	Host     string
	Port     int
	Username string
	Password string

	Workdir  string
	Workdirs map[string]string
	Tempdir  string
}

// NewSSHFS builds a descriptor owned by this host.
func NewSSHFS() (*SSHFS, error) {
	id, err := NodeID()
	if err != nil {
		return nil, err
	}
	return &SSHFS{NodeID: id, Port: 22, Workdirs: map[string]string{}}, nil
}

// SetAddress records the ssh endpoint nodes connect back to.
func (m *SSHFS) SetAddress(host string, port int) *SSHFS {
	m.Host = host
	if port > 0 {
		m.Port = port
	}
	return m
}

// SetCredentials records the ssh account. An empty password relies on key
// authentication.
func (m *SSHFS) SetCredentials(username, password string) *SSHFS {
	m.Username = username
	m.Password = password
	return m
}

// SetWorkdir declares the authoritative share for an origin tag; an empty
// tag declares the root family.
func (m *SSHFS) SetWorkdir(path, origin string) *SSHFS {
	if origin == "" {
		m.Workdir = path
	} else {
		if m.Workdirs == nil {
			m.Workdirs = map[string]string{}
		}
		m.Workdirs[strings.ToLower(origin)] = path
	}
	return m
}

// SetTempdir declares the staging share.
func (m *SSHFS) SetTempdir(path string) *SSHFS {
	m.Tempdir = path
	return m
}

// mountRoot is where a remote node places this descriptor's sshfs mounts.
func (m *SSHFS) mountRoot() string {
	return filepath.Join(os.TempDir(), "quickdist", "mount", m.Host, m.Username)
}

func formatPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "_")
	return strings.ReplaceAll(path, "/", "_")
}

// Mount installs the tier roots on this node. On the descriptor's own host
// the shares are local paths and are hosted through symlinks; on any other
// node each share is mounted over sshfs by a rendered shell script.
func (m *SSHFS) Mount() error {
	id, err := NodeID()
	if err != nil {
		return err
	}
	if id == m.NodeID {
		return mountHost(m.Workdir, m.Workdirs)
	}
	return m.mountRemote()
}

func (m *SSHFS) mountRemote() error {
	scriptFile, err := os.CreateTemp("", "quickdist-mount-*.sh")
	if err != nil {
		return fmt.Errorf("failed to write mount script: %w", err)
	}
	path := scriptFile.Name()
	defer os.Remove(path)

	if _, err := scriptFile.WriteString(m.script()); err != nil {
		scriptFile.Close()
		return fmt.Errorf("failed to write mount script: %w", err)
	}
	if err := scriptFile.Close(); err != nil {
		return err
	}

	out, err := exec.Command("bash", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount failed: %s", strings.TrimSpace(string(out)))
	}
	logger := log.WithComponent("mount")
	logger.Debug().Str("host", m.Host).Msg("sshfs shares mounted")

	return setEnv(m.env())
}

// script renders the bash program that mounts every declared share under
// the mount root.
func (m *SSHFS) script() string {
	var b strings.Builder
	b.WriteString(sshfsHelpers)

	root := m.mountRoot()
	appendMount := func(remote string) {
		local := filepath.Join(root, formatPath(remote))
		b.WriteString("\n")
		fmt.Fprintf(&b, "manage_mount_path %q\n", local)
		if m.Password != "" {
			fmt.Fprintf(&b, "mount_sshfs %q %q %q %d %q %q\n",
				local, remote, m.Host, m.Port, m.Username, m.Password)
		} else {
			fmt.Fprintf(&b, "mount_sshfs %q %q %q %d %q\n",
				local, remote, m.Host, m.Port, m.Username)
		}
	}

	if m.Tempdir != "" {
		appendMount(m.Tempdir)
	}
	if m.Workdir != "" {
		appendMount(m.Workdir)
	}
	for _, path := range sortedValues(m.Workdirs) {
		appendMount(path)
	}
	return b.String()
}

// env lists the tier root variables a remote node exports after mounting.
func (m *SSHFS) env() [][2]string {
	root := m.mountRoot()
	var kv [][2]string
	if m.Tempdir != "" {
		kv = append(kv, [2]string{"TEMPDIR", filepath.Join(root, formatPath(m.Tempdir))})
	}
	if m.Workdir != "" {
		kv = append(kv, [2]string{"WORKDIR", filepath.Join(root, formatPath(m.Workdir))})
	}
	for tag, path := range m.Workdirs {
		kv = append(kv, [2]string{"WORKDIR_" + strings.ToUpper(tag), filepath.Join(root, formatPath(path))})
	}
	return kv
}

func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// stable script output for tests and debugging
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
