package msg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levalup/quickdist/pkg/file"
	"github.com/levalup/quickdist/pkg/msg"
)

// TestRoundTripScalars verifies structural equality through the codec for
// plain payloads.
func TestRoundTripScalars(t *testing.T) {
	tests := []struct {
		name string
		m    *msg.Message
	}{
		{
			name: "ping",
			m:    msg.New("PING", int64(1), "x"),
		},
		{
			name: "kwargs",
			m: msg.New("A", int64(1), "2", int64(3)).WithKwargs(map[string]any{
				"a": int64(4),
				"b": []any{int64(1), "3", int64(5)},
				"c": int64(6),
			}),
		},
		{
			name: "nested containers",
			m: msg.New("CALL", []any{
				[]any{int64(1), int64(2)},
				map[string]any{"deep": []any{"x", true, nil}},
			}),
		},
		{
			name: "floats and bools",
			m:    msg.New("OK", 3.25, false, "done"),
		},
		{
			name: "no args",
			m:    msg.New("INFO"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := msg.Encode(tt.m)
			require.NoError(t, err)

			got, err := msg.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.m, got)
		})
	}
}

// TestRoundTripFiles verifies that file handles survive the codec with all
// attributes, nested at any depth.
func TestRoundTripFiles(t *testing.T) {
	t.Setenv("LOCALDIR", t.TempDir())

	f := file.NewLocalFile("a/b.txt", "video")
	f.NoCopy = true
	f.MD5 = "d41d8cd98f00b204e9800998ecf8427e"

	m := msg.New("CALL",
		f,
		[]any{map[string]any{"inner": file.NewLocalFile("c.bin", "")}},
	)

	data, err := msg.Encode(m)
	require.NoError(t, err)

	got, err := msg.Decode(data)
	require.NoError(t, err)
	require.Len(t, got.Args, 2)

	lifted, ok := got.Args[0].(*file.File)
	require.True(t, ok, "first arg should lift back into a file handle")
	assert.Equal(t, f, lifted)
	assert.Equal(t, file.TierLocal, lifted.Tier())

	inner := got.Args[1].([]any)[0].(map[string]any)["inner"]
	_, ok = inner.(*file.File)
	assert.True(t, ok, "nested file should lift back")
}

// TestEncodeNormalizesInts verifies the decode-side scalar normalization.
func TestEncodeNormalizesInts(t *testing.T) {
	data, err := msg.Encode(msg.New("CALL", 41))
	require.NoError(t, err)

	got, err := msg.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, int64(41), got.Args[0])
}

// TestEncodeRejectsCycles verifies the cycle guard instead of a hang.
func TestEncodeRejectsCycles(t *testing.T) {
	loop := map[string]any{}
	loop["self"] = loop

	_, err := msg.Encode(msg.New("CALL", loop))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}

func TestDecodeGarbage(t *testing.T) {
	_, err := msg.Decode([]byte("not msgpack at all"))
	assert.Error(t, err)
}

func TestMessageString(t *testing.T) {
	m := msg.New("CALL", int64(1), "x").WithKwargs(map[string]any{"k": int64(2)})
	assert.Equal(t, `CALL(1, "x", k=2)`, m.String())
}

func TestErrorReply(t *testing.T) {
	m := msg.New("ERROR", "boom")
	require.False(t, m.OK())
	assert.EqualError(t, m.Error(), "boom")
	assert.NoError(t, msg.New("OK").Error())
}
