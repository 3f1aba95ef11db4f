// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"net"
	"time"

	"github.com/opencfgd/confd/internal/confirmedcommit"
	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/notify"
	"github.com/opencfgd/confd/internal/plugin"
	"github.com/opencfgd/confd/internal/schema"
	"github.com/opencfgd/confd/session"
	"github.com/opencfgd/confd/txn"
	"github.com/rs/zerolog"
)

// Srv is the confd backend daemon: an accept loop over a listener
// (a Unix socket, whether locally bound or handed over by systemd
// socket activation — see cmd/confd) spawning one goroutine per
// connection, in the teacher's server.go style.
type Srv struct {
	net.Listener

	Reg      *datastore.Registry
	Schema   *schema.Schema
	Engine   *txn.Engine
	CC       *confirmedcommit.Machine
	Bus      *notify.Bus
	Plugins  *plugin.Registry
	Sessions *session.Registry

	SuperUID uint32

	Log zerolog.Logger
}

// New builds a Srv over an already-bound listener and the daemon's
// shared components.
func New(
	l net.Listener,
	reg *datastore.Registry,
	schm *schema.Schema,
	engine *txn.Engine,
	cc *confirmedcommit.Machine,
	bus *notify.Bus,
	plugins *plugin.Registry,
	sessions *session.Registry,
	superUID uint32,
	log zerolog.Logger,
) *Srv {
	return &Srv{
		Listener: l,
		Reg:      reg,
		Schema:   schm,
		Engine:   engine,
		CC:       cc,
		Bus:      bus,
		Plugins:  plugins,
		Sessions: sessions,
		SuperUID: superUID,
		Log:      log,
	}
}

// Serve is the daemon's accept loop. Each accepted connection gets its
// own session and its own handling goroutine.
func (s *Srv) Serve() error {
	for {
		conn, err := s.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			s.Log.Error().Err(err).Msg("accept failed")
			return err
		}
		go s.HandleConn(conn)
	}
}

// HandleConn runs one connection's session lifecycle to completion. It
// is exported so alternate front ends (internal/sshtransport) can hand
// off a channel-backed net.Conn without going through Accept/Serve.
func (s *Srv) HandleConn(conn net.Conn) {
	s.newConn(conn).Handle()
}

func (s *Srv) newConn(conn net.Conn) *SrvConn {
	return &SrvConn{
		Conn: conn,
		srv:  s,
	}
}
