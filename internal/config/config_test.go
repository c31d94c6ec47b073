package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every recognized variable so ambient shell state cannot
// steer a test. Viper treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(root, ".worklog", "ampa", "scheduler_store.json"), cfg.StorePath)
	assert.Equal(t, filepath.Join(root, ".worklog", "workflow.yaml"), cfg.DescriptorPath)
	assert.Equal(t, DefaultWorklogBin, cfg.WorklogBin)
	assert.Equal(t, DefaultAgentBin, cfg.AgentBin)
	assert.Equal(t, DefaultTick, cfg.TickInterval)
	assert.Equal(t, DefaultGrace, cfg.GraceWindow)
	assert.True(t, cfg.VerifyPRWithGH, "verification is on by default")
	assert.False(t, cfg.RunScheduler)
}

func TestVerifyPRCanBeDisabled(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	t.Setenv("AMPA_VERIFY_PR_WITH_GH", "0")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.False(t, cfg.VerifyPRWithGH)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	t.Setenv("AMPA_SCHEDULER_STORE", "/var/lib/ampa/store.json")
	t.Setenv("AMPA_VERIFY_PR_WITH_GH", "yes")
	t.Setenv("AMPA_RUN_SCHEDULER", "1")
	t.Setenv("AMPA_DISCORD_BOT_TOKEN", "bot-token")
	t.Setenv("AMPA_DISCORD_CHANNEL", "123456789")

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ampa/store.json", cfg.StorePath)
	assert.True(t, cfg.VerifyPRWithGH)
	assert.True(t, cfg.RunScheduler)
	assert.Equal(t, "bot-token", cfg.DiscordBotToken)
	assert.Equal(t, "123456789", cfg.DiscordChannelID)
}

func TestConfigFileValues(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	dir := filepath.Join(root, ".worklog", "ampa")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	body := `{
  "github_repo": "acme/widgets",
  "worklog_bin": "/opt/worklog/wl",
  "tick_seconds": 5,
  "grace_seconds": 60
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "acme/widgets", cfg.GitHubRepo)
	assert.Equal(t, "/opt/worklog/wl", cfg.WorklogBin)
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, 60*time.Second, cfg.GraceWindow)
}

func TestConfigFileNativeBooleans(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	dir := filepath.Join(root, ".worklog", "ampa")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	body := `{
  "verify_pr_with_gh": false,
  "run_scheduler": true
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.False(t, cfg.VerifyPRWithGH)
	assert.True(t, cfg.RunScheduler)
}

func TestEnvWinsOverConfigFile(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	dir := filepath.Join(root, ".worklog", "ampa")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"worklog_bin": "file-wl"}`), 0o644))
	t.Setenv("AMPA_WORKLOG_BIN", "env-wl")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "env-wl", cfg.WorklogBin)
}

func TestMalformedConfigFileFailsLoudly(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	dir := filepath.Join(root, ".worklog", "ampa")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0o644))

	_, err := Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestDotenvFileLoaded(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	// godotenv only sets variables absent from the environment, so use one
	// and drop it afterwards.
	require.NoError(t, os.Unsetenv("AMPA_DISCORD_WEBHOOK"))
	t.Cleanup(func() { os.Unsetenv("AMPA_DISCORD_WEBHOOK") })
	env := "AMPA_DISCORD_WEBHOOK=https://discord.com/api/webhooks/1/abc\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte(env), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "https://discord.com/api/webhooks/1/abc", cfg.DiscordWebhookURL)
}

func TestDescriptorResolutionPrefersExistingFile(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".worklog"), 0o755))
	jsonPath := filepath.Join(root, ".worklog", "workflow.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, jsonPath, cfg.DescriptorPath)
}

func TestDescriptorOverrideFromConfigFile(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	dir := filepath.Join(root, ".worklog", "ampa")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"workflow": "flows/main.yaml"}`), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "flows", "main.yaml"), cfg.DescriptorPath)
}

func TestTruthy(t *testing.T) {
	for _, s := range []string{"1", "true", "TRUE", "yes", "Yes", " true "} {
		assert.True(t, Truthy(s), s)
	}
	for _, s := range []string{"", "0", "false", "no", "on", "y"} {
		assert.False(t, Truthy(s), s)
	}
}

func TestRunPaths(t *testing.T) {
	cfg := &Config{ProjectRoot: "/srv/project"}
	assert.Equal(t, "/srv/project/.worklog/ampa", cfg.AmpaDir())
	assert.Equal(t, "/srv/project/.worklog/ampa/default", cfg.RunDir("default"))
	assert.Equal(t, "/srv/project/.worklog/ampa/default/default.pid", cfg.PidFile("default"))
	assert.Equal(t, "/srv/project/.worklog/ampa/default/default.log", cfg.LogFile("default"))
}
