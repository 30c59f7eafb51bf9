package stdio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/sdk/bridgepb"
)

// fakeStream records sent chunks and can be told to fail.
type fakeStream struct {
	mu     sync.Mutex
	chunks []*bridgepb.StdioChunk
	err    error
}

func (f *fakeStream) Send(c *bridgepb.StdioChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.chunks = append(f.chunks, c)
	return nil
}

func (f *fakeStream) sent() []*bridgepb.StdioChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*bridgepb.StdioChunk, len(f.chunks))
	copy(out, f.chunks)
	return out
}

func TestForwardWithoutAttachment(t *testing.T) {
	b := New(WithLocalSinks(&bytes.Buffer{}, &bytes.Buffer{}))

	err := b.Forward(bridgepb.ChannelStdout, []byte("x"))
	assert.ErrorIs(t, err, ErrNoAttachment)
}

func TestWriterMirrorsWhenAttached(t *testing.T) {
	var localOut, localErr bytes.Buffer
	b := New(WithLocalSinks(&localOut, &localErr))

	stream := &fakeStream{}
	b.Attach(stream)

	n, err := b.Stdout().Write([]byte("out-1\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	_, err = b.Stderr().Write([]byte("err-1\n"))
	require.NoError(t, err)

	_, err = b.Stdout().Write([]byte("out-2\n"))
	require.NoError(t, err)

	// Local output is always written.
	assert.Equal(t, "out-1\nout-2\n", localOut.String())
	assert.Equal(t, "err-1\n", localErr.String())

	// Mirrored copies carry the channel tag in local write order.
	chunks := stream.sent()
	require.Len(t, chunks, 3)
	assert.Equal(t, bridgepb.ChannelStdout, chunks[0].Channel)
	assert.Equal(t, []byte("out-1\n"), chunks[0].Data)
	assert.Equal(t, bridgepb.ChannelStderr, chunks[1].Channel)
	assert.Equal(t, bridgepb.ChannelStdout, chunks[2].Channel)
}

func TestWriterWithoutAttachmentIsLocalOnly(t *testing.T) {
	var localOut bytes.Buffer
	b := New(WithLocalSinks(&localOut, &bytes.Buffer{}))

	n, err := b.Stdout().Write([]byte("quiet\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "quiet\n", localOut.String())
}

func TestLastAttacherWins(t *testing.T) {
	b := New(WithLocalSinks(&bytes.Buffer{}, &bytes.Buffer{}))

	first := &fakeStream{}
	second := &fakeStream{}
	b.Attach(first)
	b.Attach(second)

	require.NoError(t, b.Forward(bridgepb.ChannelStdout, []byte("hi")))
	assert.Empty(t, first.sent())
	require.Len(t, second.sent(), 1)

	// Detaching the superseded stream must not drop the current one.
	b.Detach(first)
	require.NoError(t, b.Forward(bridgepb.ChannelStdout, []byte("again")))
	assert.Len(t, second.sent(), 2)
}

func TestSendFailureDetachesAndLocalSurvives(t *testing.T) {
	var localOut bytes.Buffer
	b := New(WithLocalSinks(&localOut, &bytes.Buffer{}))

	stream := &fakeStream{err: errors.New("stream closed")}
	b.Attach(stream)

	// The writer path swallows the forward failure.
	n, err := b.Stdout().Write([]byte("kept\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "kept\n", localOut.String())

	// The dead stream was detached.
	err = b.Forward(bridgepb.ChannelStdout, []byte("x"))
	assert.ErrorIs(t, err, ErrNoAttachment)
}

func TestDetachThenForwardRevertsToLocalOnly(t *testing.T) {
	var localOut bytes.Buffer
	b := New(WithLocalSinks(&localOut, &bytes.Buffer{}))

	stream := &fakeStream{}
	b.Attach(stream)
	b.Detach(stream)

	_, err := b.Stdout().Write([]byte("local\n"))
	require.NoError(t, err)
	assert.Equal(t, "local\n", localOut.String())
	assert.Empty(t, stream.sent())
}

func TestForwardCopiesPayload(t *testing.T) {
	b := New(WithLocalSinks(&bytes.Buffer{}, &bytes.Buffer{}))
	stream := &fakeStream{}
	b.Attach(stream)

	buf := []byte("abc")
	require.NoError(t, b.Forward(bridgepb.ChannelStdout, buf))
	buf[0] = 'z'

	chunks := stream.sent()
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte("abc"), chunks[0].Data)
}

func TestInstallInterceptsProcessStreams(t *testing.T) {
	var localOut bytes.Buffer
	b := New(WithLocalSinks(&localOut, &bytes.Buffer{}))

	stream := &fakeStream{}
	b.Attach(stream)

	savedStdout := os.Stdout
	restore, err := b.Install()
	require.NoError(t, err)

	// Double install is rejected.
	_, err = b.Install()
	assert.ErrorIs(t, err, ErrInstalled)

	assert.NotSame(t, savedStdout, os.Stdout)

	fmt.Println("intercepted")

	// The mirror goroutine is asynchronous.
	require.Eventually(t, func() bool {
		return len(stream.sent()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	restore()
	assert.Same(t, savedStdout, os.Stdout)
	assert.Contains(t, localOut.String(), "intercepted")

	// Reinstall works after restore.
	restore2, err := b.Install()
	require.NoError(t, err)
	restore2()
}
