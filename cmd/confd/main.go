// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
confd is the daemon that holds the running/candidate configuration
datastores, serializes edits and commits against them, and answers
NETCONF-style RPCs over a Unix socket (optionally systemd-activated)
and, if enabled, an SSH subsystem front end.

Usage:
	-socketfile=<filename>
		Path to the Unix socket used to communicate with the daemon
		(default: /run/confd/main.sock). Ignored if systemd hands the
		daemon a listening socket via socket activation.

	-pidfile=<filename>
		Write the daemon's pid to the given file.

	-logfile=<filename>
		Redirect structured logging to the given file (rotated via
		lumberjack) instead of stderr.

	-runfile=<filename>
		File the daemon loads its last-committed running config from
		at startup, and persists it to after every commit, so a
		restart doesn't lose configuration.

	-configfile=<filename>
		Optional YAML file overriding the flag defaults above (spec
		§9: "a YAML file merged over flag defaults").

	-metrics-listen=<addr>
		Address the Prometheus /metrics endpoint listens on (default
		":9201"). Empty disables it.

	-ssh-listen=<addr>
		If set, also serve the same RPCs over an SSH "confd" subsystem
		on this address, authenticated against -ssh-authorized-keys
		and -ssh-host-key.

	-confirm-timeout=<seconds>
		Stored in the daemon's configuration (default: 600). The commit
		handler does not read it: a confirmed-commit that carries no
		timeout always gets a fixed 10-minute timeout.

	SIGUSR1 / SIGUSR2
		Toggle CPU profiling / write a heap profile, as in the
		teacher's original bootstrap.
*/
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/opencfgd/confd/common"
	"github.com/opencfgd/confd/configd"
	"github.com/opencfgd/confd/internal/confirmedcommit"
	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/eventloop"
	"github.com/opencfgd/confd/internal/logging"
	"github.com/opencfgd/confd/internal/metrics"
	"github.com/opencfgd/confd/internal/notify"
	"github.com/opencfgd/confd/internal/plugin"
	"github.com/opencfgd/confd/internal/schema"
	"github.com/opencfgd/confd/internal/sshtransport"
	"github.com/opencfgd/confd/server"
	"github.com/opencfgd/confd/session"
	"github.com/opencfgd/confd/txn"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var basepath = "/run/confd"

var (
	cpuprofile = flag.String("cpuprofile", basepath+"/confd.pprof",
		"Write cpu profile to supplied file on SIGUSR1.")
	memprofile = flag.String("memprofile", basepath+"/confd_mem.pprof",
		"Write memory profile to specified file on SIGUSR2")
	logfile = flag.String("logfile", "",
		"Redirect structured logging to supplied file.")
	pidfile = flag.String("pidfile", basepath+"/confd.pid",
		"Write pid to supplied file.")
	socket = flag.String("socketfile", basepath+"/main.sock",
		"Path to socket used to communicate with daemon.")
	username = flag.String("user", "confd",
		"Username to explicitly allow without authorization")
	groupname = flag.String("group", "confd",
		"Group that owns the socket")
	runfile = flag.String("runfile", basepath+"/running.config",
		"File to persist running config into across restarts")
	secretsgroup = flag.String("secretsgroup", "secrets",
		"Group that is allowed to view nodes marked as secret")
	supergroup = flag.String("supergroup", "",
		"Group that is permitted access to all sessions")
	configFile = flag.String("configfile", "/etc/confd/confd.yaml",
		"Optional YAML file overriding flag defaults")
	metricsListen = flag.String("metrics-listen", ":9201",
		"Address the Prometheus /metrics endpoint listens on; empty disables it")
	sshListen = flag.String("ssh-listen", "",
		"If set, also serve RPCs over an SSH subsystem on this address")
	sshHostKey = flag.String("ssh-host-key", "/etc/confd/ssh_host_ed25519_key",
		"Host key used by the SSH transport")
	sshAuthorizedKeys = flag.String("ssh-authorized-keys", "/etc/confd/authorized_keys",
		"authorized_keys file used by the SSH transport")
	confirmTimeout = flag.Uint("confirm-timeout", 600,
		"Confirmed-commit rollback timeout in seconds, stored in the config; the commit handler does not read it")
	capabilities = flag.String("capabilities",
		common.ConfigManagementFeature, "Comma-separated config system features to advertise")
)

var runningprof bool

func sigstartprof() {
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGUSR1, syscall.SIGUSR2)
	for sig := range sigch {
		switch sig {
		case syscall.SIGUSR1:
			if !runningprof {
				f, err := os.Create(*cpuprofile)
				if err != nil {
					continue
				}
				pprof.StartCPUProfile(f)
				runningprof = true
			} else {
				pprof.StopCPUProfile()
				runningprof = false
			}
		case syscall.SIGUSR2:
			f, err := os.Create(*memprofile)
			if err != nil {
				continue
			}
			pprof.WriteHeapProfile(f)
			f.Close()
		}
	}
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadYAMLOverrides merges a YAML config file over the values taken
// from flags, whether defaulted or passed explicitly, per spec §9's
// ambient configuration layering; a missing file is not
// an error, since -configfile itself has a default path.
func loadYAMLOverrides(cfg *configd.Config, path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, cfg)
}

// knownFeatures validates a comma-separated -capabilities value against
// the well-known config system feature names and drops anything else,
// logging a warning so a typo'd flag doesn't silently advertise a
// feature nobody implements.
func knownFeatures(log zerolog.Logger, raw string) string {
	known := map[string]bool{
		common.ConfigManagementFeature: true,
		common.LoadKeysFeature:         true,
		common.RoutingInstanceFeature:  true,
	}
	var kept []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !known[f] {
			log.Warn().Str("feature", f).Msg("unrecognised config system feature, dropping")
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, ",")
}

func writePid(path string) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%d\n", os.Getpid())
}

func chownSocket(path, username, groupname string) {
	uid := 0
	if u, err := user.Lookup(username); err == nil {
		uid, _ = strconv.Atoi(u.Uid)
	}
	gid := 0
	if g, err := user.LookupGroup(groupname); err == nil {
		gid, _ = strconv.Atoi(g.Gid)
	}
	os.Chmod(path, 0770)
	os.Chown(path, uid, gid)
}

// getListener prefers a systemd-activation-provided socket (spec §10:
// "systemd socket activation") and falls back to binding socketPath
// itself.
func getListener(socketPath, username, groupname string) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, err
	}
	if len(listeners) > 0 {
		return listeners[0], nil
	}

	os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	chownSocket(socketPath, username, groupname)
	return l, nil
}

// loadRunningConfig restores the previously-persisted running
// datastore from runfile, if it exists, so a daemon restart doesn't
// revert to an empty configuration.
func loadRunningConfig(reg *datastore.Registry, path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	node := new(datastore.Node)
	if err := yaml.Unmarshal(raw, node); err != nil {
		return err
	}
	return reg.Put(datastore.Running, datastore.OpReplace, node, 0)
}

func persistRunningConfig(reg *datastore.Registry, path string) {
	n, err := reg.Get(datastore.Running, nil, false)
	if err != nil || n == nil {
		return
	}
	raw, err := yaml.Marshal(n)
	if err != nil {
		return
	}
	os.WriteFile(path, raw, 0600)
}

func main() {
	debug.SetGCPercent(25)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := configd.DefaultConfig()
	cfg.User = *username
	cfg.Runfile = *runfile
	cfg.Logfile = *logfile
	cfg.Pidfile = *pidfile
	cfg.Socket = *socket
	cfg.SecretsGroup = *secretsgroup
	cfg.SuperGroup = *supergroup
	cfg.MetricsAddr = *metricsListen
	cfg.ConfirmTimeoutSeconds = uint32(*confirmTimeout)
	cfg.Capabilities = *capabilities
	fatal(loadYAMLOverrides(cfg, *configFile))

	loggers := logging.New(logging.Options{LogFile: cfg.Logfile})
	log := loggers.Debug
	cfg.Capabilities = knownFeatures(log, cfg.Capabilities)

	go sigstartprof()

	reg := datastore.New()
	fatal(loadRunningConfig(reg, cfg.Runfile))

	// Schema is populated by an embedding deployment's own bootstrap
	// (YANG/schema compilation is a named external collaborator, spec
	// §1 Non-goals); an empty schema accepts any payload until one is
	// registered here.
	schm := schema.NewBuilder().Build()

	plugins := plugin.NewRegistry()
	fatal(plugins.RunInit())
	fatal(plugins.RunStart())

	engine := txn.New(reg, schm, plugins, log)
	engine.OnCommit(func(d time.Duration) {
		metrics.CommitDuration.Observe(d.Seconds())
		persistRunningConfig(reg, cfg.Runfile)
	})

	loop := eventloop.New()
	cc := confirmedcommit.New(loop, reg, engine, log)
	cc.Terminate = func(reason string) {
		log.Error().Str("reason", reason).Msg("confirmed-commit rollback and failsafe failed, terminating")
		syscall.Kill(os.Getpid(), syscall.SIGINT)
	}
	cc.OnRollback(func(o confirmedcommit.RollbackOutcome) {
		metrics.RollbacksTotal.WithLabelValues(o.String()).Inc()
	})
	fatal(confirmedcommit.Recover(reg, engine, bootSource(cfg)))

	bus := notify.NewBus()

	sessions := session.NewRegistry(reg, bus, cc, log)
	sessions.OnLifecycle(
		func() { metrics.ActiveSessions.Inc() },
		func() { metrics.ActiveSessions.Dec() },
	)

	superUID := 0
	if u, err := user.Lookup(cfg.User); err == nil {
		superUID, _ = strconv.Atoi(u.Uid)
	}

	l, err := getListener(cfg.Socket, cfg.User, *groupname)
	fatal(err)

	srv := server.New(l, reg, schm, engine, cc, bus, plugins, sessions, uint32(superUID), log)

	writePid(cfg.Pidfile)

	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", metrics.Handler())
			log.Error().Err(http.ListenAndServe(cfg.MetricsAddr, nil)).Msg("metrics listener exited")
		}()
	}

	if *sshListen != "" {
		go func() {
			sshCfg := sshtransport.Config{HostKeyPath: *sshHostKey, AuthorizedKeysPath: *sshAuthorizedKeys}
			if err := sshtransport.Serve(*sshListen, sshCfg, srv, log); err != nil {
				log.Error().Err(err).Msg("ssh transport exited")
			}
		}()
	}

	runtime.GC()
	debug.FreeOSMemory()

	fatal(srv.Serve())
}

// bootSource tells confirmedcommit.Recover whether the config the
// daemon just loaded came from a live "running" snapshot (a restart of
// an already-running daemon, e.g. systemd's Restart=on-failure) or a
// fresh "startup" boot with no runfile present.
func bootSource(cfg *configd.Config) string {
	if _, err := os.Stat(cfg.Runfile); err == nil {
		return "running"
	}
	return "startup"
}
