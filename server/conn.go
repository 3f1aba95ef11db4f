// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2015,2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/opencfgd/confd/rpc"
)

// SrvConn is one accepted connection: a JSON-framed rpc.Request/Reply
// exchange, matching the teacher's conn.go shape but generalized from a
// method-name-plus-args JSON-RPC framing to the Request/Reply pair of
// package rpc.
type SrvConn struct {
	net.Conn
	srv     *Srv
	enc     *json.Encoder
	dec     *json.Decoder
	sending sync.Mutex
}

func (conn *SrvConn) sendReply(reply *rpc.Reply) error {
	conn.sending.Lock()
	defer conn.sending.Unlock()
	if conn.enc == nil {
		conn.enc = json.NewEncoder(conn.Conn)
	}
	return conn.enc.Encode(reply)
}

func (conn *SrvConn) readRequest() (*rpc.Request, error) {
	if conn.dec == nil {
		conn.dec = json.NewDecoder(conn.Conn)
	}
	req := new(rpc.Request)
	if err := conn.dec.Decode(req); err != nil {
		return nil, err
	}
	return req, nil
}

// peerCredentials reads SO_PEERCRED off a Unix-domain connection, used
// to decide whether the connecting process is the daemon's own
// superuser identity (teacher: server/conn.go's getCreds). Handle calls
// it for every connection; for a non-Unix connection (such as the SSH
// channel from internal/sshtransport) it reports ok=false, and Handle
// then never treats the connection as superuser.
func peerCredentials(conn net.Conn) (uid uint32, pid int32, ok bool) {
	uc, isUnix := conn.(*net.UnixConn)
	if !isUnix {
		return 0, 0, false
	}
	f, err := uc.File()
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	cred, err := syscall.GetsockoptUcred(int(f.Fd()), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	if err != nil {
		return 0, 0, false
	}
	return cred.Uid, cred.Pid, true
}

// Handle is the per-connection main loop: create a session, then read
// and dispatch requests until the peer disconnects or a write fails,
// finally tearing the session down (spec §4.1: "a session's locks are
// released automatically on session termination").
func (conn *SrvConn) Handle() {
	defer conn.Conn.Close()

	uid, pid, credOK := peerCredentials(conn.Conn)
	superuser := credOK && (uid == 0 || uid == conn.srv.SuperUID)

	sess := conn.srv.Sessions.Create(conn.Conn.RemoteAddr().String())
	defer conn.srv.Sessions.Destroy(sess.ID)

	disp := &Disp{
		Sess:      sess,
		Superuser: superuser,
		Reg:       conn.srv.Reg,
		Schema:    conn.srv.Schema,
		Engine:    conn.srv.Engine,
		CC:        conn.srv.CC,
		Bus:       conn.srv.Bus,
		Plugins:   conn.srv.Plugins,
		Sessions:  conn.srv.Sessions,
		Log:       conn.srv.Log.With().Int64("sid", sess.ID).Int32("pid", pid).Logger(),
	}

	for {
		req, err := conn.readRequest()
		if err != nil {
			if err != io.EOF {
				conn.srv.Log.Warn().Err(err).Int64("sid", sess.ID).Msg("read request failed")
			}
			return
		}

		var reply *rpc.Reply
		ok := sess.Do(func() {
			reply = disp.Dispatch(req)
		})
		if !ok {
			// kill-session raced this connection's own traffic and won;
			// the session is already torn down (spec §9 Open Question (a)).
			return
		}
		if err := conn.sendReply(reply); err != nil {
			return
		}
	}
}
