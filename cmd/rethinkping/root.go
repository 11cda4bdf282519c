// MIT License
//
// Copyright (c) 2016-2017 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command rethinkping is a small smoke-test client for the connection core:
// connect, handshake, run a query, and watch a change feed from a terminal.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lessc0de/rethinkdb"
)

const envPrefix = "RETHINKPING"

// rootConfig mirrors the connection options a caller of the library would
// set via Option, collected from flags/env/config file through viper.
type rootConfig struct {
	host       string
	port       int
	db         string
	authKey    string
	timeout    time.Duration
	verbose    bool
	configFile string

	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	cfg := &rootConfig{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "rethinkping",
		Short:         "Connect to a RethinkDB-compatible query server and run a smoke test",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.load(cmd.Flags())
		},
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&cfg.host, "host", "H", "localhost", "server host")
	f.IntVarP(&cfg.port, "port", "P", 28015, "server port")
	f.StringVarP(&cfg.db, "db", "d", "", "default database")
	f.StringVar(&cfg.authKey, "auth-key", "", "handshake auth key (or RETHINKPING_AUTH_KEY)")
	f.DurationVarP(&cfg.timeout, "timeout", "t", 20*time.Second, "connection timeout")
	f.BoolVarP(&cfg.verbose, "verbose", "v", false, "log connection lifecycle events to stderr")
	f.StringVar(&cfg.configFile, "config", "", "path to a rethinkping.yaml config file")

	cmd.AddCommand(newPingCmd(cfg))
	cmd.AddCommand(newAtomCmd(cfg))
	cmd.AddCommand(newWatchCmd(cfg))

	return cmd
}

// load binds flags/env/config file into cfg, with flags taking precedence:
// env vars are prefixed and dot-separated keys become underscores, and an
// explicit --config file is merged in if given.
func (c *rootConfig) load(flags *pflag.FlagSet) error {
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	if c.configFile != "" {
		c.v.SetConfigFile(c.configFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", c.configFile, err)
		}
	}

	applyStrFallback(&c.host, "host", c.v, flags)
	applyStrFallback(&c.db, "db", c.v, flags)
	applyAuthKeyFallback(&c.authKey, c.v, flags)
	if !flags.Changed("port") {
		if n := c.v.GetInt("port"); n != 0 {
			c.port = n
		}
	}
	if !flags.Changed("timeout") {
		if d := c.v.GetDuration("timeout"); d > 0 {
			c.timeout = d
		}
	}
	return nil
}

// applyAuthKeyFallback is applyStrFallback specialized for auth-key, whose
// flag name and viper key differ ("auth-key" vs "auth_key").
func applyAuthKeyFallback(dst *string, v *viper.Viper, flags *pflag.FlagSet) {
	if flags.Changed("auth-key") {
		return
	}
	if s := v.GetString("auth_key"); s != "" {
		*dst = s
	}
}

// applyStrFallback overrides *dst from viper (env var or config file) unless
// the flag was explicitly passed on the command line.
func applyStrFallback(dst *string, flagName string, v *viper.Viper, flags *pflag.FlagSet) {
	if flags.Changed(flagName) {
		return
	}
	if s := v.GetString(flagName); s != "" {
		*dst = s
	}
}

func (c *rootConfig) logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	if c.verbose {
		_ = rethinkdb.AdjustLogLevel(l, true)
		_ = rethinkdb.AdjustLogLevel(l, true)
	}
	return l
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rethinkping:", err)
		os.Exit(1)
	}
}
