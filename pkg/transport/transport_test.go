package transport

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levalup/quickdist/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	m.Run()
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xAB}, 1<<16),
	}
	for _, p := range payloads {
		require.NoError(t, WriteFrame(&buf, p))
	}
	for _, want := range payloads {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))

	short := bytes.NewReader(buf.Bytes()[:6])
	_, err := ReadFrame(short)
	assert.Error(t, err)
}

func TestRepEcho(t *testing.T) {
	rep, err := ListenRep(0, func(req []byte) []byte {
		return append([]byte("echo:"), req...)
	}, 4)
	require.NoError(t, err)
	go rep.Run()
	defer rep.Close()

	dealer, err := Dial("127.0.0.1", rep.Port())
	require.NoError(t, err)
	defer dealer.Close()

	got, err := dealer.Exchange([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:hello"), got)

	// Strict request/reply: the same dealer can keep exchanging.
	got, err = dealer.Exchange([]byte("again"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:again"), got)
}

// TestRepConcurrentDealers drives many dealers against one server, the
// orchestrator's usage pattern (one dealer per slot).
func TestRepConcurrentDealers(t *testing.T) {
	rep, err := ListenRep(0, func(req []byte) []byte {
		return req
	}, 4)
	require.NoError(t, err)
	go rep.Run()
	defer rep.Close()

	const dealers = 20
	var wg sync.WaitGroup
	errs := make(chan error, dealers)

	for i := 0; i < dealers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			d, err := Dial("127.0.0.1", rep.Port())
			if err != nil {
				errs <- err
				return
			}
			defer d.Close()

			for j := 0; j < 5; j++ {
				want := []byte(fmt.Sprintf("dealer-%d-%d", i, j))
				got, err := d.Exchange(want)
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(want, got) {
					errs <- fmt.Errorf("reply mismatch: %q != %q", got, want)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// TestRepHandlerPanic verifies a panicking handler yields an error reply
// and the server keeps serving.
func TestRepHandlerPanic(t *testing.T) {
	calls := 0
	rep, err := ListenRep(0, func(req []byte) []byte {
		calls++
		if calls == 1 {
			panic("first call explodes")
		}
		return []byte("fine")
	}, 1)
	require.NoError(t, err)
	go rep.Run()
	defer rep.Close()

	dealer, err := Dial("127.0.0.1", rep.Port())
	require.NoError(t, err)
	defer dealer.Close()

	got, err := dealer.Exchange([]byte("boom"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "panicked")

	got, err = dealer.Exchange([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fine"), got)
}

func TestDealerIdentity(t *testing.T) {
	rep, err := ListenRep(0, func(req []byte) []byte { return req }, 1)
	require.NoError(t, err)
	go rep.Run()
	defer rep.Close()

	a, err := Dial("127.0.0.1", rep.Port())
	require.NoError(t, err)
	defer a.Close()

	b, err := Dial("127.0.0.1", rep.Port())
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Identity(), b.Identity())
	assert.NotEmpty(t, a.Identity())
}

func TestRepClose(t *testing.T) {
	rep, err := ListenRep(0, func(req []byte) []byte { return req }, 2)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		rep.Run()
		close(done)
	}()

	dealer, err := Dial("127.0.0.1", rep.Port())
	require.NoError(t, err)
	defer dealer.Close()

	_, err = dealer.Exchange([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, rep.Close())
	<-done

	_, err = dealer.Exchange([]byte("y"))
	assert.Error(t, err, "exchanges after close should fail")
}
