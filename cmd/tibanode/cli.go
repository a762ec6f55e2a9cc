/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gravitational/trace"

	"github.com/tibanode/tibanode-client/lib/logger"
)

const (
	storageDisk   = "disk"
	storageFile   = "file"
	storageRedis  = "redis"
	storageMemory = "memory"
)

// APIConfig is the API endpoint configuration
type APIConfig struct {
	// APIURL is the API base URL
	APIURL string `name:"api-url" help:"API base URL" default:"http://localhost:8000/api" env:"TIBANODE_API_URL"`

	// HTTPTimeout bounds a single HTTP exchange
	HTTPTimeout time.Duration `name:"http-timeout" help:"HTTP request timeout" default:"10s" env:"TIBANODE_HTTP_TIMEOUT"`
}

// StorageConfig selects where the session tokens are kept
type StorageConfig struct {
	// StorageType is the storage backend
	StorageType string `name:"storage-type" help:"Session storage backend" enum:"disk,file,redis,memory" default:"disk" env:"TIBANODE_STORAGE"`

	// StorageDir is the disk backend directory
	StorageDir string `name:"storage-dir" help:"Session storage directory (disk backend)" env:"TIBANODE_STORAGE_DIR"`

	// StorageFile is the file backend path
	StorageFile string `name:"storage-file" help:"Session storage file (file backend)" env:"TIBANODE_STORAGE_FILE"`
}

// RedisConfig is the redis backend configuration
type RedisConfig struct {
	RedisAddr     string `name:"redis-addr" help:"Redis address (redis backend)" env:"TIBANODE_REDIS_ADDR"`
	RedisPassword string `name:"redis-password" help:"Redis password" env:"TIBANODE_REDIS_PASSWORD"`
	RedisDB       int    `name:"redis-db" help:"Redis database number" default:"0" env:"TIBANODE_REDIS_DB"`
	RedisPrefix   string `name:"redis-prefix" help:"Redis key prefix" default:"tibanode:" env:"TIBANODE_REDIS_PREFIX"`
}

// LogConfig is the logging configuration
type LogConfig struct {
	LogOutput   string `name:"log-output" help:"Log output: stderr, stdout or a file path" default:"stderr" env:"TIBANODE_LOG_OUTPUT"`
	LogSeverity string `name:"log-severity" help:"Log severity: debug, info, warn or error" default:"warn" env:"TIBANODE_LOG_SEVERITY"`
}

// Globals are the flags shared by every command
type Globals struct {
	// Config is the path to configuration file
	Config kong.ConfigFlag `help:"Path to TOML configuration file" optional:"true" type:"existingfile" env:"TIBANODE_CONFIG"`

	// Debug is a debug logging mode flag
	Debug bool `help:"Debug logging" short:"d"`

	APIConfig
	StorageConfig
	RedisConfig
	LogConfig

	// Stdout receives command output
	Stdout io.Writer `kong:"-"`

	// Stderr receives notifications
	Stderr io.Writer `kong:"-"`

	// Prompter asks for missing credentials
	Prompter Prompter `kong:"-"`
}

// CLI represents command structure
type CLI struct {
	Globals

	// Version is the version print command
	Version VersionCmd `cmd:"true" help:"Print client version"`

	Login    LoginCmd    `cmd:"true" help:"Log in with email and password"`
	Register RegisterCmd `cmd:"true" help:"Create an account"`
	Logout   LogoutCmd   `cmd:"true" help:"Forget the stored session"`
	Whoami   WhoamiCmd   `cmd:"true" help:"Restore the stored session and show who is logged in"`
	Token    TokenCmd    `cmd:"true" help:"Show the claims of the stored tokens"`
	Get      GetCmd      `cmd:"true" help:"Send an authenticated GET request and print the response"`
}

// CheckAndSetDefaults fills in the defaults that depend on the environment
func (g *Globals) CheckAndSetDefaults() error {
	if g.Stdout == nil {
		g.Stdout = os.Stdout
	}
	if g.Stderr == nil {
		g.Stderr = os.Stderr
	}
	if g.Prompter == nil {
		g.Prompter = promptUI{}
	}

	switch g.StorageType {
	case storageDisk:
		if g.StorageDir == "" {
			dir, err := defaultDir()
			if err != nil {
				return trace.Wrap(err)
			}
			g.StorageDir = filepath.Join(dir, "session")
		}
	case storageFile:
		if g.StorageFile == "" {
			dir, err := defaultDir()
			if err != nil {
				return trace.Wrap(err)
			}
			g.StorageFile = filepath.Join(dir, "tokens.json")
		}
	case storageRedis:
		if g.RedisAddr == "" {
			return trace.BadParameter("--redis-addr is required for the redis storage")
		}
	case storageMemory:
	default:
		return trace.BadParameter("unsupported storage type %q", g.StorageType)
	}

	return nil
}

// LoggerConfig converts the flags into the logger configuration
func (g *Globals) LoggerConfig() logger.Config {
	conf := logger.Config{Output: g.LogOutput, Severity: g.LogSeverity}
	if g.Debug {
		conf.Severity = "debug"
	}
	return conf
}

func defaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", trace.Wrap(err, "failed to find the user configuration directory, use --storage-dir")
	}
	return filepath.Join(dir, "tibanode"), nil
}
