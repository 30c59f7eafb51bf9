// Package stdio mirrors the plugin's standard output and standard error to
// the host.
//
// The host opens a single server-streaming call (plugin.GRPCStdio) and the
// bridge pushes every subsequently written byte on it, tagged by channel,
// in local write order. Local output is the primary path: it is always
// written to the real OS-level streams first, and a mirroring failure is
// never allowed to block or fail a local write.
package stdio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/hostbridge/sdk/bridgepb"
)

// ErrNoAttachment is returned by Forward when the host is not currently
// listening. Callers on the local output path are expected to discard it.
var ErrNoAttachment = errors.New("stdio: no stream attached")

// ErrInstalled is returned by Install when the bridge has already
// intercepted the process streams.
var ErrInstalled = errors.New("stdio: bridge already installed")

// Bridge owns a wrapped stdout/stderr sink pair and an optional attachment
// to the host's mirroring stream.
//
// Output flows through the bridge two ways:
//
//   - The Stdout and Stderr writers, which write to the real stream and
//     then forward a mirrored copy. This path preserves cross-channel
//     write order exactly.
//   - Install, which swaps os.Stdout and os.Stderr for pipes so that code
//     writing to the process streams directly is mirrored too.
//
// At most one stream is attached at a time; attaching replaces any
// previous attachment (last attacher wins). All methods are safe for
// concurrent use.
type Bridge struct {
	logger *slog.Logger

	// localOut/localErr override the real sinks when set (tests).
	localOut io.Writer
	localErr io.Writer

	// emitMu serializes local-write-plus-forward so the mirrored order
	// matches local write order across both channels.
	emitMu sync.Mutex

	// mu guards the attachment and the interception state. It is only
	// ever held momentarily.
	mu         sync.Mutex
	attached   Sender
	attachID   string
	installed  bool
	realStdout *os.File
	realStderr *os.File

	// installMu serializes Install against its restore function.
	installMu sync.Mutex
}

// Sender is the outbound half of the host's mirroring stream. The
// generated stream server satisfies it.
type Sender interface {
	Send(*bridgepb.StdioChunk) error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithLocalSinks overrides the real stdout/stderr sinks. Intended for
// tests; production bridges write to the process streams.
func WithLocalSinks(stdout, stderr io.Writer) Option {
	return func(b *Bridge) {
		b.localOut = stdout
		b.localErr = stderr
	}
}

// New creates a Bridge with no attachment.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Stdout returns a writer that writes to the real standard output and
// mirrors to the host when a stream is attached.
func (b *Bridge) Stdout() io.Writer {
	return &channelWriter{bridge: b, channel: bridgepb.ChannelStdout}
}

// Stderr returns a writer that writes to the real standard error and
// mirrors to the host when a stream is attached.
func (b *Bridge) Stderr() io.Writer {
	return &channelWriter{bridge: b, channel: bridgepb.ChannelStderr}
}

// Attach records stream as the sole current attachment, replacing any
// previous one, and returns an identifier for logging. Attaching over an
// existing stream is not an error; the newcomer wins.
func (b *Bridge) Attach(stream Sender) string {
	id := uuid.New().String()

	b.mu.Lock()
	replaced := b.attached != nil
	b.attached = stream
	b.attachID = id
	b.mu.Unlock()

	b.logger.Debug("stdio stream attached", "attachment", id, "replaced", replaced)
	return id
}

// Detach clears the attachment if stream is still the current one.
// Detaching a superseded or already-detached stream is a no-op.
func (b *Bridge) Detach(stream Sender) {
	b.mu.Lock()
	var id string
	if b.attached == stream {
		id = b.attachID
		b.attached = nil
		b.attachID = ""
	}
	b.mu.Unlock()

	if id != "" {
		b.logger.Debug("stdio stream detached", "attachment", id)
	}
}

// Forward delivers a mirrored copy of p, tagged with channel, to the
// attached stream.
//
// Forwarding is best effort: with no attachment it returns ErrNoAttachment,
// and a send failure detaches the dead stream and returns the error. The
// caller on the local output path is contractually required to discard the
// result — local output must never be blocked or lost because mirroring
// failed.
func (b *Bridge) Forward(channel bridgepb.Channel, p []byte) error {
	b.mu.Lock()
	stream := b.attached
	id := b.attachID
	b.mu.Unlock()

	if stream == nil {
		return ErrNoAttachment
	}

	// The stream may retain the buffer past this call.
	data := make([]byte, len(p))
	copy(data, p)

	if err := stream.Send(&bridgepb.StdioChunk{Channel: channel, Data: data}); err != nil {
		b.Detach(stream)
		b.logger.Debug("stdio forward failed, stream detached", "attachment", id, "error", err)
		return fmt.Errorf("stdio: forward: %w", err)
	}
	return nil
}

// Install intercepts the process-level os.Stdout and os.Stderr so that
// direct writes to them are mirrored as well. It returns a restore
// function that undoes the interception; the caller holds it for teardown.
//
// A bridge installs at most once at a time: a second Install without an
// intervening restore returns ErrInstalled. Installing two bridges in one
// process would double-forward bytes and is the caller's responsibility to
// avoid.
func (b *Bridge) Install() (restore func(), err error) {
	b.installMu.Lock()
	defer b.installMu.Unlock()

	b.mu.Lock()
	installed := b.installed
	b.mu.Unlock()
	if installed {
		return nil, ErrInstalled
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdio: stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("stdio: stderr pipe: %w", err)
	}

	b.mu.Lock()
	b.realStdout = os.Stdout
	b.realStderr = os.Stderr
	b.installed = true
	b.mu.Unlock()

	os.Stdout = outW
	os.Stderr = errW

	var wg sync.WaitGroup
	wg.Add(2)
	go b.mirror(&wg, bridgepb.ChannelStdout, outR)
	go b.mirror(&wg, bridgepb.ChannelStderr, errR)

	return func() {
		b.installMu.Lock()
		defer b.installMu.Unlock()

		b.mu.Lock()
		os.Stdout = b.realStdout
		os.Stderr = b.realStderr
		b.mu.Unlock()

		// EOF the readers so the mirror goroutines drain and exit.
		outW.Close()
		errW.Close()
		wg.Wait()
		outR.Close()
		errR.Close()

		b.mu.Lock()
		b.installed = false
		b.realStdout = nil
		b.realStderr = nil
		b.mu.Unlock()
	}, nil
}

// RealStdout returns the sink local standard output ultimately reaches:
// the saved process stdout while installed, os.Stdout otherwise. The
// orchestrator writes the handshake line here so it is never mirrored back
// to the host.
func (b *Bridge) RealStdout() io.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.localOut != nil {
		return b.localOut
	}
	if b.installed {
		return b.realStdout
	}
	return os.Stdout
}

// mirror drains one intercepted pipe, writing each chunk locally first and
// then forwarding a copy.
func (b *Bridge) mirror(wg *sync.WaitGroup, channel bridgepb.Channel, r *os.File) {
	defer wg.Done()

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b.emit(channel, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// emit performs one local write plus best-effort forward under the emit
// lock, keeping mirrored order equal to local order.
func (b *Bridge) emit(channel bridgepb.Channel, p []byte) (int, error) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	n, err := b.sink(channel).Write(p)

	if ferr := b.Forward(channel, p); ferr != nil && !errors.Is(ferr, ErrNoAttachment) {
		b.logger.Debug("stdio mirror dropped", "channel", channel.String(), "error", ferr)
	}

	return n, err
}

// sink resolves the real local sink for a channel. While installed the
// process streams point at our pipes, so the saved files are used instead.
func (b *Bridge) sink(channel bridgepb.Channel) io.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if channel == bridgepb.ChannelStderr {
		if b.localErr != nil {
			return b.localErr
		}
		if b.installed {
			return b.realStderr
		}
		return os.Stderr
	}

	if b.localOut != nil {
		return b.localOut
	}
	if b.installed {
		return b.realStdout
	}
	return os.Stdout
}

type channelWriter struct {
	bridge  *Bridge
	channel bridgepb.Channel
}

// Write writes p to the real local stream and mirrors it to the host. The
// returned error reflects the local write only.
func (w *channelWriter) Write(p []byte) (int, error) {
	return w.bridge.emit(w.channel, p)
}
