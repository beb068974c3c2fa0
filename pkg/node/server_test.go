package node

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levalup/quickdist/pkg/file"
	"github.com/levalup/quickdist/pkg/log"
	"github.com/levalup/quickdist/pkg/msg"
	"github.com/levalup/quickdist/pkg/pool"
	"github.com/levalup/quickdist/pkg/transport"
)

// TestMain doubles as the worker child entry for pools built by SETUP.
func TestMain(m *testing.M) {
	if pool.IsWorkerProcess() {
		if err := pool.RunWorker(); err != nil {
			fmt.Fprintf(os.Stderr, "worker: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, processes int) *Server {
	t.Helper()
	s := NewServer(0, processes)
	t.Cleanup(s.Close)
	return s
}

// exchange drives the handler directly with an encoded request.
func exchange(t *testing.T, s *Server, m *msg.Message) *msg.Message {
	t.Helper()
	req, err := msg.Encode(m)
	require.NoError(t, err)

	rep, err := msg.Decode(s.handle(req))
	require.NoError(t, err)
	return rep
}

func TestPingEchoes(t *testing.T) {
	s := newTestServer(t, 2)

	rep := exchange(t, s, msg.New("PING", int64(1), "x"))
	assert.Equal(t, "PONG", rep.Cmd)
	assert.Equal(t, []any{int64(1), "x"}, rep.Args)
	assert.Empty(t, rep.Kwargs)
}

func TestInfoAdvertisesProcesses(t *testing.T) {
	s := newTestServer(t, 4)

	rep := exchange(t, s, msg.New("INFO"))
	require.True(t, rep.OK())
	assert.Equal(t, int64(4), rep.Kwargs["processes"])
}

func TestUnknownCommand(t *testing.T) {
	s := newTestServer(t, 1)

	rep := exchange(t, s, msg.New("FROB"))
	require.Equal(t, "ERROR", rep.Cmd)
	assert.Equal(t, "Received unknown cmd FROB", rep.Args[0])
}

func TestCloseIsRejected(t *testing.T) {
	s := newTestServer(t, 1)

	rep := exchange(t, s, msg.New("CLOSE"))
	require.Equal(t, "ERROR", rep.Cmd)
	assert.Equal(t, "Can not close server at current version", rep.Args[0])
}

func TestCallBeforeSetup(t *testing.T) {
	s := newTestServer(t, 1)

	rep := exchange(t, s, msg.New("CALL", int64(1)))
	require.Equal(t, "ERROR", rep.Cmd)
	assert.Contains(t, rep.Args[0], "SETUP")
}

func TestMalformedFrame(t *testing.T) {
	s := newTestServer(t, 1)

	rep, err := msg.Decode(s.handle([]byte("garbage")))
	require.NoError(t, err)
	assert.Equal(t, "ERROR", rep.Cmd)
}

func TestSetupAndCall(t *testing.T) {
	s := newTestServer(t, 2)

	rep := exchange(t, s, msg.New("SETUP", `function main(x) return x + 1 end`))
	require.True(t, rep.OK(), "SETUP failed: %v", rep)

	rep = exchange(t, s, msg.New("CALL", int64(41)))
	require.True(t, rep.OK(), "CALL failed: %v", rep)
	assert.Equal(t, []any{int64(42)}, rep.Args)
}

func TestSetupReplacesPool(t *testing.T) {
	s := newTestServer(t, 1)

	rep := exchange(t, s, msg.New("SETUP", `function main() return "one" end`))
	require.True(t, rep.OK())
	rep = exchange(t, s, msg.New("CALL"))
	require.True(t, rep.OK())
	assert.Equal(t, []any{"one"}, rep.Args)

	rep = exchange(t, s, msg.New("SETUP", `function main() return "two" end`))
	require.True(t, rep.OK())
	rep = exchange(t, s, msg.New("CALL"))
	require.True(t, rep.OK())
	assert.Equal(t, []any{"two"}, rep.Args)
}

func TestSetupBadScript(t *testing.T) {
	s := newTestServer(t, 1)

	rep := exchange(t, s, msg.New("SETUP", `not even lua ((`))
	assert.Equal(t, "ERROR", rep.Cmd)

	rep = exchange(t, s, msg.New("SETUP", `x = 1`))
	require.Equal(t, "ERROR", rep.Cmd)
	assert.Contains(t, rep.Args[0], "main")
}

func TestUserErrorSurfaces(t *testing.T) {
	s := newTestServer(t, 1)

	rep := exchange(t, s, msg.New("SETUP", `function main() error("boom in user code") end`))
	require.True(t, rep.OK())

	rep = exchange(t, s, msg.New("CALL"))
	require.Equal(t, "ERROR", rep.Cmd)
	assert.Contains(t, rep.Args[0], "boom in user code")
}

// TestCallStagesFiles covers the staging wrap: inputs are pulled into the
// local tier before main runs, outputs pushed to the staging tier before
// the reply leaves.
func TestCallStagesFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	work, local, temp := t.TempDir(), t.TempDir(), t.TempDir()
	t.Setenv("WORKDIR", work)
	t.Setenv("LOCALDIR", local)
	t.Setenv("TEMPDIR", temp)

	require.NoError(t, os.MkdirAll(filepath.Join(work, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(work, "a", "b.txt"), []byte("hi"), 0o644))

	s := newTestServer(t, 1)

	rep := exchange(t, s, msg.New("SETUP", `function main(f) return f end`))
	require.True(t, rep.OK())

	in, err := file.NewWorkFile("a/b.txt", "")
	require.NoError(t, err)

	rep = exchange(t, s, msg.New("CALL", in))
	require.True(t, rep.OK(), "CALL failed: %v", rep)

	// All three tiers hold the bytes.
	for _, path := range []string{
		filepath.Join(work, "a", "b.txt"),
		filepath.Join(local, "__root__", "a", "b.txt"),
		filepath.Join(temp, "__root__", "a", "b.txt"),
	} {
		data, err := os.ReadFile(path)
		require.NoError(t, err, path)
		assert.Equal(t, "hi", string(data), path)
	}

	// The reply's handle points at the staging tier, ready for the
	// orchestrator-side propagation back to the workdir.
	out, ok := rep.Args[0].(*file.File)
	require.True(t, ok)
	assert.Equal(t, file.TierTemp, out.Tier())
	require.NoError(t, out.ToOrigin())
	data, err := os.ReadFile(filepath.Join(work, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

// TestCallSkipsNoCopy verifies nocopy files are left alone.
func TestCallSkipsNoCopy(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	work, local, temp := t.TempDir(), t.TempDir(), t.TempDir()
	t.Setenv("WORKDIR", work)
	t.Setenv("LOCALDIR", local)
	t.Setenv("TEMPDIR", temp)

	require.NoError(t, os.WriteFile(filepath.Join(work, "skip.txt"), []byte("stay"), 0o644))

	s := newTestServer(t, 1)
	rep := exchange(t, s, msg.New("SETUP", `function main(f) return f end`))
	require.True(t, rep.OK())

	in, err := file.NewWorkFile("skip.txt", "")
	require.NoError(t, err)
	in.NoCopy = true

	rep = exchange(t, s, msg.New("CALL", in))
	require.True(t, rep.OK())

	_, err = os.Stat(filepath.Join(local, "__root__", "skip.txt"))
	assert.True(t, os.IsNotExist(err), "nocopy input must not be staged")
}

// TestCallMissingFile verifies a staging failure aborts the call.
func TestCallMissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WORKDIR", t.TempDir())
	t.Setenv("LOCALDIR", t.TempDir())
	t.Setenv("TEMPDIR", t.TempDir())

	s := newTestServer(t, 1)
	rep := exchange(t, s, msg.New("SETUP", `function main(f) return f end`))
	require.True(t, rep.OK())

	ghost, err := file.NewWorkFile("no/such.bin", "")
	require.NoError(t, err)

	rep = exchange(t, s, msg.New("CALL", ghost))
	assert.Equal(t, "ERROR", rep.Cmd)
}

// TestServeOverNetwork exercises the listening path end to end.
func TestServeOverNetwork(t *testing.T) {
	s := newTestServer(t, 2)
	require.NoError(t, s.Listen())
	go s.Run()

	dealer, err := transport.Dial("127.0.0.1", s.Port())
	require.NoError(t, err)
	defer dealer.Close()

	req, err := msg.Encode(msg.New("PING", "over", "tcp"))
	require.NoError(t, err)
	frame, err := dealer.Exchange(req)
	require.NoError(t, err)

	rep, err := msg.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "PONG", rep.Cmd)
	assert.Equal(t, []any{"over", "tcp"}, rep.Args)
}
