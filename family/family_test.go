package family

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, basedir, name, content string) {
	t.Helper()

	path := filepath.Join(basedir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestName(t *testing.T) {
	t.Run("reads and trims the family file", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "etc/family", "net/dns\n")

		name, err := Name(basedir)

		require.NoError(t, err)
		assert.Equal(t, "net/dns", name)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Name(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("empty file is an error", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "etc/family", "\n")

		_, err := Name(basedir)
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "etc/family", "addressbook\n")

		cfg, err := Load(basedir, Options{})

		require.NoError(t, err)
		assert.Equal(t, "addressbook", cfg.Family)
		assert.Equal(t, "prod", cfg.Deployment)
		assert.Equal(t, "client", cfg.Mode)
		assert.Equal(t, basedir, cfg.BaseDir)
		assert.Nil(t, cfg.Overlay)
	})

	t.Run("applies the deployment overlay", func(t *testing.T) {
		basedir := t.TempDir()
		cfgdir := t.TempDir()
		writeFile(t, basedir, "etc/family", "net/dns\n")
		writeFile(t, cfgdir, "config-net#dns#staging.json",
			`{"url_prefix": "api.example.com:8080", "notification_type": "none"}`)

		cfg, err := Load(basedir, Options{Deployment: "staging", ConfigDir: cfgdir})

		require.NoError(t, err)
		assert.Equal(t, "api.example.com:8080", cfg.URLPrefix())
		assert.Equal(t, "none", cfg.Overlay["notification_type"])
	})

	t.Run("unknown deployment is an error", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "etc/family", "addressbook\n")

		_, err := Load(basedir, Options{Deployment: "nosuch", ConfigDir: t.TempDir()})

		assert.ErrorContains(t, err, "invalid deployment")
	})

	t.Run("keeps servers and mode from options", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "etc/family", "addressbook\n")

		cfg, err := Load(basedir, Options{
			Mode:    "server",
			Servers: map[string][]string{"http": {"localhost:8080"}},
		})

		require.NoError(t, err)
		assert.Equal(t, "server", cfg.Mode)
		assert.Equal(t, []string{"localhost:8080"}, cfg.Servers["http"])
	})
}

func TestLoadServerConfig(t *testing.T) {
	basedir := t.TempDir()
	writeFile(t, basedir, "etc/laf-server.yml", "lones:\n  - contact\n  - group\n")

	cfg, err := LoadServerConfig(basedir)

	require.NoError(t, err)
	assert.Equal(t, []string{"contact", "group"}, cfg.Lones)
}

func TestCMRequired(t *testing.T) {
	t.Run("missing file requires nothing", func(t *testing.T) {
		required, err := CMRequired(t.TempDir(), "contact", "create")

		require.NoError(t, err)
		assert.False(t, required)
	})

	t.Run("listed operation requires a ticket", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "etc/cm-config.yml", "contact:\n  - create\n  - delete\n")

		required, err := CMRequired(basedir, "contact", "create")
		require.NoError(t, err)
		assert.True(t, required)

		required, err = CMRequired(basedir, "contact", "get")
		require.NoError(t, err)
		assert.False(t, required)

		required, err = CMRequired(basedir, "group", "create")
		require.NoError(t, err)
		assert.False(t, required)
	})

	t.Run("mapping shape keys are operation ids", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "etc/cm-config.yml", "contact:\n  create: ticket\n  delete: {}\n")

		required, err := CMRequired(basedir, "contact", "create")
		require.NoError(t, err)
		assert.True(t, required)

		required, err = CMRequired(basedir, "contact", "delete")
		require.NoError(t, err)
		assert.True(t, required)

		required, err = CMRequired(basedir, "contact", "get")
		require.NoError(t, err)
		assert.False(t, required)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "etc/cm-config.yml", "contact: [unclosed\n")

		_, err := CMRequired(basedir, "contact", "create")
		assert.Error(t, err)
	})
}

func TestLoneOptions(t *testing.T) {
	const optionsYML = `
getopt:
  default:
    name: string
  create:
    tags: list
    force: boolean
    name: string
default_input:
  create:
    region: us
`

	t.Run("missing file yields empty options", func(t *testing.T) {
		opts, err := LoadLoneOptions(t.TempDir(), "contact")

		require.NoError(t, err)
		assert.Empty(t, opts.Flags("create"))
		assert.Nil(t, opts.Default("create"))
	})

	t.Run("verb flags overlay the defaults", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "schemas/contact.options.yml", optionsYML)

		opts, err := LoadLoneOptions(basedir, "contact")
		require.NoError(t, err)

		assert.Equal(t, map[string]string{
			"name":  "string",
			"tags":  "list",
			"force": "boolean",
		}, opts.Flags("create"))
		assert.Equal(t, map[string]string{"name": "string"}, opts.Flags("update"))
	})

	t.Run("default input is per verb", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "schemas/contact.options.yml", optionsYML)

		opts, err := LoadLoneOptions(basedir, "contact")
		require.NoError(t, err)

		assert.Equal(t, map[string]any{"region": "us"}, opts.Default("create"))
		assert.Nil(t, opts.Default("update"))
	})

	t.Run("get and delete always start empty", func(t *testing.T) {
		basedir := t.TempDir()
		writeFile(t, basedir, "schemas/contact.options.yml",
			"default_input:\n  get:\n    surprising: yes\n")

		opts, err := LoadLoneOptions(basedir, "contact")
		require.NoError(t, err)

		assert.Equal(t, map[string]any{}, opts.Default("get"))
		assert.Equal(t, map[string]any{}, opts.Default("delete"))
	})
}

func TestReadEnv(t *testing.T) {
	t.Setenv("LAF_CONFIG", "/etc/laf")
	t.Setenv("JOURNAL_SOCK", "/run/journal.sock")
	t.Setenv("LAF-TX-ID", "tx-pinned")

	e, err := ReadEnv()

	require.NoError(t, err)
	assert.Equal(t, "/etc/laf", e.ConfigDir)
	assert.Equal(t, "/run/journal.sock", e.JournalSock)
	assert.Equal(t, "tx-pinned", e.TxID)
	assert.Empty(t, e.NotificationSock)
}
