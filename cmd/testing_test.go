package cmd_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/go-arrower/livestore/cmd"
)

var errCmdFailed = errors.New("cmd failed")

func TestTestExecute(t *testing.T) {
	t.Parallel()

	t.Run("command output", func(t *testing.T) {
		t.Parallel()

		rootCmd := &cobra.Command{Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "Hello")
			fmt.Fprintln(cmd.ErrOrStderr(), "World")
		}}

		output, err := cmd.TestExecute(t, rootCmd)
		assert.NoError(t, err)
		assert.Contains(t, output, "Hello")
		assert.Contains(t, output, "World")
	})

	t.Run("process output", func(t *testing.T) {
		t.Parallel()

		rootCmd := &cobra.Command{Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(os.Stdout, "Hello")
			fmt.Fprintln(os.Stderr, "World")
		}}

		output, err := cmd.TestExecute(t, rootCmd)
		assert.NoError(t, err)
		assert.Contains(t, output, "Hello")
		assert.Contains(t, output, "World")
	})

	t.Run("return error of command", func(t *testing.T) {
		t.Parallel()

		rootCmd := &cobra.Command{RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 2 {
				return fmt.Errorf("%w", errCmdFailed)
			}

			return nil
		}}

		output, err := cmd.TestExecute(t, rootCmd, "some", "args")
		assert.ErrorIs(t, err, errCmdFailed)
		assert.Contains(t, output, errCmdFailed.Error())
	})

	t.Run("no colours", func(t *testing.T) {
		t.Parallel()

		rootCmd := &cobra.Command{Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgRed).Sprint("Hello"))
		}}

		output, err := cmd.TestExecute(t, rootCmd)
		assert.NoError(t, err)
		assert.Equal(t, "Hello\n", output)
	})

	t.Run("pass context", func(t *testing.T) {
		t.Parallel()

		type key struct{}

		rootCmd := &cobra.Command{Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cmd.Context().Value(key{}))
		}}

		ctx := context.WithValue(context.Background(), key{}, "Hello World")

		output, err := cmd.TestExecuteContext(t, ctx, rootCmd)
		assert.NoError(t, err)
		assert.Contains(t, output, "Hello World")
	})

	t.Run("test command in parallel", func(t *testing.T) {
		t.Parallel()

		rootCmd := &cobra.Command{Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "Hello World")
		}}

		wg := sync.WaitGroup{}

		for range 10 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				output, err := cmd.TestExecute(t, rootCmd)
				assert.NoError(t, err)
				assert.Contains(t, output, "Hello World")
			}()
		}

		wg.Wait()
	})
}
