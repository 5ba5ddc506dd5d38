package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(resetMocks)

	t.Run("should write the panic and stack to the log file", func(t *testing.T) {
		var written []byte
		var path string
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			path, written = name, data
			return nil
		}
		exitCode := -1
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("graph on fire")
		}()

		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, string(written), "panic: graph on fire")
		assert.Contains(t, string(written), "goroutine")
		assert.Equal(t, 1, exitCode)
	})

	t.Run("should still exit when the log cannot be written", func(t *testing.T) {
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		exitCode := -1
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("again")
		}()
		assert.Equal(t, 1, exitCode)
	})

	t.Run("should do nothing without a panic", func(t *testing.T) {
		osExit = func(int) { t.Fatal("unexpected exit") }
		func() {
			defer handlePanic()
		}()
	})
}

func TestRunShell(t *testing.T) {
	t.Run("should run each line and stop at exit", func(t *testing.T) {
		in := strings.NewReader("version\n\nbogus-command\nexit\nversion\n")
		var out, errOut bytes.Buffer

		require.NoError(t, runShell(context.Background(), in, &out, &errOut))

		assert.Equal(t, 1, strings.Count(out.String(), "plotweave dev"))
		assert.Contains(t, errOut.String(), `unknown command "bogus-command"`)
		assert.Equal(t, 4, strings.Count(out.String(), "plotweave > "))
	})

	t.Run("should stop at end of input", func(t *testing.T) {
		var out, errOut bytes.Buffer
		require.NoError(t, runShell(context.Background(), strings.NewReader("version"), &out, &errOut))
		assert.Contains(t, out.String(), "plotweave dev")
	})
}
