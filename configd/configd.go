// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package configd holds the daemon's bootstrap configuration shape —
// the flag/YAML-merged settings cmd/confd reads at startup (spec §9
// Ambient Stack: Configuration). The per-connection authorization
// context the teacher threaded as configd.Context is superseded by
// server.Disp, which carries the same "explicit context, no ambient
// globals" design the teacher's Context embodied, scoped to this
// repository's session/datastore/schema types instead of the
// unavailable github.com/danos/config/auth package.
package configd

// Config is the daemon's bootstrap configuration: flag defaults,
// optionally overridden by a YAML file, per SPEC_FULL.md §9.
type Config struct {
	User         string
	Runfile      string
	Logfile      string
	Pidfile      string
	Socket       string
	SecretsGroup string
	SuperGroup   string
	Capabilities string

	ConfirmTimeoutSeconds uint32
	MetricsAddr           string
}

// DefaultConfig returns the daemon's built-in defaults, overridden by
// flags and then by a YAML config file in cmd/confd's bootstrap.
func DefaultConfig() *Config {
	return &Config{
		Runfile:               "/etc/confd/config.boot",
		Socket:                "/run/confd/main.sock",
		Pidfile:               "/run/confd/confd.pid",
		ConfirmTimeoutSeconds: 600,
		MetricsAddr:           ":9201",
	}
}
