package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// mu serialises TestExecute: the command's output, os.Stdout and os.Stderr
// and the colour setting are all swapped for the duration of a call.
var mu sync.Mutex

// TestExecute executes command with args and returns everything it printed,
// to its own writers as well as to os.Stdout and os.Stderr, without colours.
func TestExecute(t testing.TB, command *cobra.Command, args ...string) (string, error) {
	t.Helper()

	return TestExecuteContext(t, context.Background(), command, args...)
}

// TestExecuteContext is like TestExecute, but executes command with ctx.
func TestExecuteContext(t testing.TB, ctx context.Context, command *cobra.Command, args ...string) (string, error) {
	t.Helper()

	mu.Lock()
	defer mu.Unlock()

	noColor := color.NoColor
	color.NoColor = true

	defer func() { color.NoColor = noColor }()

	buf := &syncBuffer{}
	command.SetOut(buf)
	command.SetErr(buf)
	command.SetArgs(args)

	restoreStdout := redirect(t, &os.Stdout, buf)
	restoreStderr := redirect(t, &os.Stderr, buf)

	_, cmdErr := command.ExecuteContextC(ctx)

	restoreStdout()
	restoreStderr()

	return buf.String(), cmdErr
}

// redirect points *f to a pipe, copied into w.
// The returned function restores *f and waits for the copy to finish.
func redirect(t testing.TB, f **os.File, w io.Writer) func() {
	t.Helper()

	r, pw, err := os.Pipe()
	require.NoError(t, err)

	prev := *f
	*f = pw

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(w, r)
		close(done)
	}()

	return func() {
		_ = pw.Close()
		<-done
		_ = r.Close()
		*f = prev
	}
}

// syncBuffer is an io.Writer safe for concurrent use.
type syncBuffer struct {
	b bytes.Buffer
	m sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.m.Lock()
	defer b.m.Unlock()

	return b.b.Write(p) //nolint:wrapcheck
}

func (b *syncBuffer) String() string {
	b.m.Lock()
	defer b.m.Unlock()

	return b.b.String()
}
