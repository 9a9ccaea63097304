package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the server flags. Keys are flag names.
type FileConfig struct {
	Addr           string   `yaml:"addr"`
	DSN            string   `yaml:"dsn"`
	SigningKey     string   `yaml:"signing-key"`
	AllowedOrigins []string `yaml:"allowed-origins"`
	LogLevel       string   `yaml:"log-level"`
	LogFile        string   `yaml:"log-file"`
	SendRate       float64  `yaml:"send-rate"`
	SendBurst      int      `yaml:"send-burst"`
}

// LoadDotEnv loads variables from a .env file in the working directory
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
}

func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &fc, nil
}

func (fc *FileConfig) values() map[string]string {
	vals := map[string]string{
		"addr":        fc.Addr,
		"dsn":         fc.DSN,
		"signing-key": fc.SigningKey,
		"log-level":   fc.LogLevel,
		"log-file":    fc.LogFile,
	}
	if len(fc.AllowedOrigins) > 0 {
		vals["allowed-origins"] = strings.Join(fc.AllowedOrigins, ",")
	}
	if fc.SendRate > 0 {
		vals["send-rate"] = strconv.FormatFloat(fc.SendRate, 'f', -1, 64)
	}
	if fc.SendBurst > 0 {
		vals["send-burst"] = strconv.Itoa(fc.SendBurst)
	}
	return vals
}

// SetFromEnv sets flag name from the environment variable key unless the
// flag was given on the command line. A flag set this way counts as given
// for ApplyFile.
func SetFromEnv(fs *flag.FlagSet, name, key string) error {
	value := GetEnv(key, "")
	if value == "" {
		return nil
	}

	given := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			given = true
		}
	})
	if given {
		return nil
	}

	if err := fs.Set(name, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// ApplyFile sets every flag of fs that was not given on the command line
// and has a value in fc.
func ApplyFile(fs *flag.FlagSet, fc *FileConfig) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	for name, value := range fc.values() {
		if value == "" || set[name] || fs.Lookup(name) == nil {
			continue
		}
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("config file %s: %w", name, err)
		}
	}

	return nil
}
