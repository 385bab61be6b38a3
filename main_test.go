package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"climbwall/ollama"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"agent"},
		{"agent", "run"},
		{"chat"},
		{"generate"},
		{"complete"},
		{"compare"},
		{"chat-server"},
		{"tutorial", "hello"},
		{"tutorial", "basics"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestConfigFlagLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("ollama:\n  base_url: http://127.0.0.1:1\n  timeout: 1s\n"), 0o644))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", path, "generate", "--model", "llama3.2", "hi"})
	// nothing listens on port 1
	assert.Error(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yml"), "generate", "hi"})
	assert.Error(t, root.Execute())
}

func TestPrintCompare(t *testing.T) {
	var out bytes.Buffer
	err := printCompare(&out, []ollama.CompareResult{
		{Model: "llama3.2", Response: " I'm Llama \n", Duration: 1500 * time.Millisecond},
		{Model: "gemma2:2b", Err: errors.New("model not found")},
	})
	require.NoError(t, err)
	assert.Equal(t, "llama3.2  Response: I'm Llama\n(1.5s)\n\ngemma2:2b  Error: model not found\n\n", out.String())

	err = printCompare(&out, []ollama.CompareResult{{Model: "a", Err: errors.New("down")}})
	assert.Error(t, err)
}

func TestRootCommandLoadsDotenv(t *testing.T) {
	dir := t.TempDir()
	env := "CLIMBWALL_DOTENV_KEY=from-dotenv\nCLIMBWALL_PRESET_KEY=from-dotenv\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o644))
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("ollama:\n  base_url: http://127.0.0.1:1\n  timeout: 1s\n"), 0o644))
	t.Chdir(dir)
	t.Setenv("CLIMBWALL_PRESET_KEY", "from-shell")
	t.Cleanup(func() { _ = os.Unsetenv("CLIMBWALL_DOTENV_KEY") })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", path, "generate", "hi"})
	// the command itself fails, the env is loaded before it runs
	assert.Error(t, root.Execute())

	assert.Equal(t, "from-dotenv", os.Getenv("CLIMBWALL_DOTENV_KEY"))
	assert.Equal(t, "from-shell", os.Getenv("CLIMBWALL_PRESET_KEY"))
}

func TestLoadEnvMissingFile(t *testing.T) {
	assert.NotPanics(t, func() { loadEnv(filepath.Join(t.TempDir(), ".env")) })
}
