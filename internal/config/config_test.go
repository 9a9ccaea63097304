package config

import (
	"bytes"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	var (
		addr = "localhost:8080"
		dsn  = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		key  = "c29tZV9zZWNyZXQ="
		orig = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name string
		addr string
		dsn  string
		key  string
		orig []string
		err  bool
	}{
		{
			name: "valid config",
			addr: addr,
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  false,
		},
		{
			name: "empty address",
			addr: "",
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty DSN",
			addr: addr,
			dsn:  "",
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty signing key",
			addr: addr,
			dsn:  dsn,
			key:  "",
			orig: orig,
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.addr, tc.dsn, tc.key, tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.dsn, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, tc.orig, config.AllowedOrigins, "expected allowed origins to match")
			assert.NotEmpty(t, config.SigningKey, "expected signing key to be decoded and not empty")
			assert.Equal(t, DefaultTokenTTL, config.TokenTTL, "expected default token ttl")
		})
	}
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=", //
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectedKey:  nil,
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectedKey:  nil,
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}

func TestApplyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	err := os.WriteFile(path, []byte(`
addr: ":9000"
dsn: "postgres://file"
log-level: debug
send-burst: 20
allowed-origins:
  - http://a.example.com
  - http://b.example.com
`), 0o600)
	require.NoError(t, err)

	fc, err := LoadFile(path)
	require.NoError(t, err)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:8000", "")
	dsn := fs.String("dsn", "postgres://default", "")
	level := fs.String("log-level", "info", "")
	burst := fs.Int("send-burst", DefaultSendBurst, "")
	origins := fs.String("allowed-origins", "", "")
	require.NoError(t, fs.Parse([]string{"-dsn", "postgres://flag"}))

	require.NoError(t, ApplyFile(fs, fc))

	assert.Equal(t, ":9000", *addr, "expected file value for unset flag")
	assert.Equal(t, "postgres://flag", *dsn, "expected command line to win over file")
	assert.Equal(t, "debug", *level)
	assert.Equal(t, 20, *burst)
	assert.Equal(t, "http://a.example.com,http://b.example.com", *origins)
}

func TestSetFromEnv(t *testing.T) {
	fc := &FileConfig{AllowedOrigins: []string{"http://file.example.com"}}

	tcases := []struct {
		name string
		args []string
		env  string
		want string
	}{
		{
			name: "environment wins over file",
			env:  "http://env.example.com",
			want: "http://env.example.com",
		},
		{
			name: "command line wins over environment",
			args: []string{"-allowed-origins", "http://flag.example.com"},
			env:  "http://env.example.com",
			want: "http://flag.example.com",
		},
		{
			name: "file used without environment",
			want: "http://file.example.com",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CHAT_TEST_ORIGINS", tc.env)

			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			origins := fs.String("allowed-origins", "", "")
			require.NoError(t, fs.Parse(tc.args))

			require.NoError(t, SetFromEnv(fs, "allowed-origins", "CHAT_TEST_ORIGINS"))
			require.NoError(t, ApplyFile(fs, fc))

			assert.Equal(t, tc.want, *origins)
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "expected error for missing file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unterminated"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err, "expected error for malformed yaml")
}

func TestGetEnv(t *testing.T) {
	t.Setenv("CHAT_TEST_VALUE", "set")
	t.Setenv("CHAT_TEST_RATE", "2.5")
	t.Setenv("CHAT_TEST_BURST", "bad")

	assert.Equal(t, "set", GetEnv("CHAT_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("CHAT_TEST_UNSET", "fallback"))
	assert.Equal(t, 2.5, GetEnvFloat("CHAT_TEST_RATE", 1))
	assert.Equal(t, 7, GetEnvInt("CHAT_TEST_BURST", 7), "expected fallback for unparsable int")
}

func TestParseLogLevel(t *testing.T) {
	tcases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}

	for in, want := range tcases {
		assert.Equal(t, want, ParseLogLevel(in), "level %q", in)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("hello", "user_id", 1)

	assert.True(t, strings.Contains(stderr.String(), "msg=hello"), "expected text output on stderr")
	assert.True(t, strings.Contains(file.String(), `"msg":"hello"`), "expected json output in file")
	assert.False(t, strings.Contains(stderr.String(), "hidden"), "expected debug to be filtered")
}
