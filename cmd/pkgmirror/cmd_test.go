package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"pkgmirror/pkg/checkpoint"
	"pkgmirror/pkg/config"
	"pkgmirror/pkg/errlog"
	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
	"pkgmirror/pkg/queue"
	"pkgmirror/pkg/ui"
)

func testEnvironment(t *testing.T) *environment {
	t.Helper()
	var buf bytes.Buffer
	ui.SetOutput(&buf)
	t.Cleanup(func() { ui.SetOutput(os.Stdout) })

	cfg := config.DefaultConfig()
	cfg.Logging.ErrorLog = filepath.Join(t.TempDir(), "error.log")
	return &environment{cfg: cfg, log: logger.NewNopLogger(), notifier: ui.NewNotifier(false)}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(exampleConfig), cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestFinishExitStatus(t *testing.T) {
	env := testEnvironment(t)

	assert.NoError(t, env.finish("harvest", queue.Summary{Total: 1, Completed: 1}, nil))
	assert.NoError(t, env.finish("harvest", queue.Summary{Interrupted: true}, errs.ErrInterrupted))

	flushFailed := errors.Join(errs.ErrInterrupted, errors.New("disk full"))
	assert.Error(t, env.finish("harvest", queue.Summary{Interrupted: true}, flushFailed))

	fatal := errs.Wrap(errs.ErrorTypeFatal, "checkpoint.save", errs.ErrCheckpoint)
	assert.ErrorIs(t, env.finish("mirror", queue.Summary{}, fatal), errs.ErrCheckpoint)
}

func TestWorkList(t *testing.T) {
	env := testEnvironment(t)
	items := []string{"a", "b", "c"}

	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "progress.json"), checkpoint.Options{Logger: logger.NewNopLogger()})
	require.NoError(t, err)

	got, err := env.workList("harvest", items, store, selection{})
	require.NoError(t, err)
	assert.Equal(t, items, got)

	got, err = env.workList("harvest", items, store, selection{resumeOnly: true})
	require.NoError(t, err)
	assert.Empty(t, got)

	log, err := errlog.Open(env.cfg.Logging.ErrorLog, "")
	require.NoError(t, err)
	require.NoError(t, log.Failure("mirror", "left-pad", "1.0.0", errors.New("boom")))
	require.NoError(t, log.Failure("harvest", "vue", "", errors.New("boom")))
	require.NoError(t, log.Failure("harvest", "react", "", errors.New("boom")))
	require.NoError(t, log.Failure("harvest", "vue", "", errors.New("boom")))
	require.NoError(t, log.Close())

	got, err = env.workList("harvest", items, store, selection{fromErrors: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"vue", "react"}, got)

	t.Run("active item leads every subset", func(t *testing.T) {
		require.NoError(t, store.MarkActive("b", 250, 250))

		got, err := env.workList("harvest", items, store, selection{resumeOnly: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, got)

		got, err = env.workList("harvest", []string{"a", "c"}, store, selection{})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c"}, got)

		got, err = env.workList("harvest", items, store, selection{fromErrors: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "vue", "react"}, got)

		got, err = env.workList("harvest", items, store, selection{})
		require.NoError(t, err)
		assert.Equal(t, items, got)
	})
}

func TestResetFlagsRestoresDefaults(t *testing.T) {
	require.NoError(t, harvestCmd.Flags().Set("force-restart", "true"))
	require.NoError(t, harvestCmd.Flags().Set("queries", "react,vue"))
	require.NoError(t, rootCmd.PersistentFlags().Set("delay-ms", "5"))

	resetFlags(rootCmd)

	assert.False(t, harvestSel.forceRestart)
	assert.False(t, harvestCmd.Flags().Changed("force-restart"))
	assert.Empty(t, queries)
	assert.Equal(t, -1, delayMs)
	assert.Empty(t, globalFlags())
}

func TestGlobalFlagsOmitUnset(t *testing.T) {
	assert.Empty(t, globalFlags())

	delayMs, logLevel = 0, "debug"
	t.Cleanup(func() { delayMs, logLevel = -1, "" })

	flags := globalFlags()
	assert.Equal(t, 0, flags["delay-ms"])
	assert.Equal(t, "debug", flags["log-level"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}
