// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the JSON configuration shared by the
// subscriber and recorder/replayer CLI entry points (cmd/netpub-subscriber,
// cmd/netpub-recorder), discovered the way the teacher codebase's own
// config loader locates its file, generalized to the netidx-style
// NETIDX_CFG environment override this system's clients expect (§6).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/nhr-fau/netpub/internal/archive/coldstore"
	"github.com/nhr-fau/netpub/internal/clusterbus"
	"github.com/nhr-fau/netpub/internal/glob"
)

// Config is the on-disk JSON shape for both CLI entry points; a recorder
// process uses the recording-related fields, a pure subscriber ignores them.
type Config struct {
	Resolver []string `json:"resolver"`

	Globs                []string `json:"globs"`
	ArchiveFile          string   `json:"archive-file"`
	PollInterval         string   `json:"poll-interval"`
	ImageFrequency       int64    `json:"image-frequency"`
	FlushFrequency       int64    `json:"flush-frequency"`
	FlushInterval        string   `json:"flush-interval"`
	ImageCodec           string   `json:"image-codec"`
	MaxSessions          int      `json:"max-sessions"`
	MaxSessionsPerClient int      `json:"max-sessions-per-client"`
	AdminAddr            string   `json:"admin-addr"`

	ColdStorage *coldStorageConfig  `json:"cold-storage"`
	Cluster     *clusterbus.Config `json:"cluster"`
}

type coldStorageConfig struct {
	Endpoint     string `json:"endpoint"`
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	AccessKey    string `json:"access-key"`
	SecretKey    string `json:"secret-key"`
	UsePathStyle bool   `json:"use-path-style"`
	Interval     string `json:"interval"`
}

// searchPaths returns, in priority order, the locations Load checks when no
// explicit path is given: $NETIDX_CFG, then the OS config-dir convention,
// then a hardcoded system path (§6 "config discovery").
func searchPaths() []string {
	var out []string
	if p := os.Getenv("NETIDX_CFG"); p != "" {
		out = append(out, p)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		out = append(out, filepath.Join(dir, "netidx", "client.json"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "netidx", "client.json"))
	}
	if runtime.GOOS == "windows" {
		out = append(out, `C:\ProgramData\netidx\client.json`)
	} else {
		out = append(out, "/etc/netidx/client.json")
	}
	return out
}

// Load reads and validates the process config. An empty explicit path
// searches searchPaths() in order and uses the first file that exists.
func Load(explicit string) (*Config, error) {
	path := explicit
	if path == "" {
		for _, p := range searchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
		if path == "" {
			return nil, fmt.Errorf("config: no config file found (searched %v)", searchPaths())
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cclog.Infof("config: loaded %s", path)
	return &cfg, nil
}

// CompileGlobs compiles the configured glob patterns, per §4.6's recorder spec.
func (c *Config) CompileGlobs() ([]*glob.Glob, error) {
	out := make([]*glob.Glob, 0, len(c.Globs))
	for _, raw := range c.Globs {
		g, ok := glob.Compile(raw)
		if !ok {
			return nil, fmt.Errorf("config: invalid glob %q", raw)
		}
		out = append(out, g)
	}
	return out, nil
}

// Duration parses a Go duration string field, treating "" as zero rather
// than an error (most interval fields are optional).
func Duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// ColdStore converts the config's cold-storage section, if present, into a
// coldstore.Config.
func (c *Config) ColdStore() (*coldstore.Config, error) {
	if c.ColdStorage == nil {
		return nil, nil
	}
	interval, err := Duration(c.ColdStorage.Interval)
	if err != nil {
		return nil, fmt.Errorf("config: cold-storage.interval: %w", err)
	}
	return &coldstore.Config{
		Endpoint:     c.ColdStorage.Endpoint,
		Bucket:       c.ColdStorage.Bucket,
		Region:       c.ColdStorage.Region,
		AccessKey:    c.ColdStorage.AccessKey,
		SecretKey:    c.ColdStorage.SecretKey,
		UsePathStyle: c.ColdStorage.UsePathStyle,
		Interval:     interval,
	}, nil
}

// ArchivePath returns the configured archive file as an absolute path,
// resolved relative to the current working directory.
func (c *Config) ArchivePath() (string, error) {
	return filepath.Abs(c.ArchiveFile)
}
