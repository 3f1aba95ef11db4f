// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// The Disp type dispatches one connection's RPCs against the daemon's
// shared components (datastore registry, schema, confirmed-commit
// machine, notification bus, session registry). It replaces the
// teacher's reflection-driven method table (server/server.go's NewSrv)
// with a direct switch over rpc.Operation, since the wire vocabulary is
// now a small, fixed NETCONF-style operation set rather than an
// arbitrary exported-method surface.
package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opencfgd/confd/common"
	"github.com/opencfgd/confd/internal/confirmedcommit"
	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/metrics"
	"github.com/opencfgd/confd/internal/mgmterror"
	"github.com/opencfgd/confd/internal/notify"
	"github.com/opencfgd/confd/internal/plugin"
	"github.com/opencfgd/confd/internal/schema"
	"github.com/opencfgd/confd/rpc"
	"github.com/opencfgd/confd/session"
	"github.com/opencfgd/confd/txn"
	"github.com/rs/zerolog"
)

// Disp carries one connection's authorization context and dispatches
// its requests against the process-wide components.
type Disp struct {
	Sess      *session.Session
	Superuser bool

	Reg      *datastore.Registry
	Schema   *schema.Schema
	Engine   *txn.Engine
	CC       *confirmedcommit.Machine
	Bus      *notify.Bus
	Plugins  *plugin.Registry
	Sessions *session.Registry
	Log      zerolog.Logger
}

// Dispatch runs one request to completion and returns the reply to
// send back. It never panics the connection: every error path returns
// a tagged mgmterror-bearing reply instead (spec §7).
func (d *Disp) Dispatch(req *rpc.Request) *rpc.Reply {
	switch req.Op {
	case rpc.GetConfig:
		return d.getConfig(req)
	case rpc.Get:
		return d.get(req)
	case rpc.EditConfig:
		return d.editConfig(req)
	case rpc.CopyConfig:
		return d.copyConfig(req)
	case rpc.DeleteConfig:
		return d.deleteConfig(req)
	case rpc.Lock:
		return d.lock(req)
	case rpc.Unlock:
		return d.unlock(req)
	case rpc.CloseSession:
		return d.closeSession(req)
	case rpc.KillSession:
		return d.killSession(req)
	case rpc.Validate:
		return d.validate(req)
	case rpc.Commit:
		return d.commit(req)
	case rpc.DiscardChanges:
		return d.discardChanges(req)
	case rpc.CancelCommit:
		return d.cancelCommit(req)
	case rpc.CreateSubscription:
		return d.createSubscription(req)
	case rpc.SetDebug:
		return d.setDebug(req)
	default:
		result, err, ok := d.Plugins.Dispatch(string(req.Op), nil)
		if ok {
			if err != nil {
				return rpc.ErrReply(req.MessageID, err)
			}
			n, _ := result.(*datastore.Node)
			return rpc.WithData(req.MessageID, n)
		}
		return rpc.ErrReply(req.MessageID, mgmterror.NewOperationNotSupportedApplicationError())
	}
}

func (d *Disp) getConfig(req *rpc.Request) *rpc.Reply {
	src := req.Source
	if src == "" {
		src = datastore.Running
	}
	n, err := d.Reg.Get(src, req.FilterPath, false)
	if err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	if n == nil {
		n = datastore.NewContainer("data")
	}
	return rpc.WithData(req.MessageID, n)
}

func (d *Disp) get(req *rpc.Request) *rpc.Reply {
	n, err := d.Reg.Get(datastore.Running, req.FilterPath, true)
	if err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	if n == nil {
		n = datastore.NewContainer("data")
	}
	if state, err := d.Plugins.RunStateData(req.FilterPath); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	} else if state != nil {
		if err := datastore.Apply(n, state, datastore.OpMerge); err != nil {
			return rpc.ErrReply(req.MessageID, err)
		}
	}
	return rpc.WithData(req.MessageID, n)
}

// checkLock returns a lock-denied *mgmterror.Error if target is locked
// by a session other than the caller's, per spec §4.2's mandatory lock
// checks on edit-config, copy-config, and delete-config.
func (d *Disp) checkLock(target string) error {
	if holder := d.Reg.IsLocked(target); holder != 0 && holder != d.Sess.ID {
		return mgmterror.NewLockDeniedError(strconv.FormatInt(holder, 10))
	}
	return nil
}

func (d *Disp) editConfig(req *rpc.Request) *rpc.Reply {
	target := req.Target
	if target == "" {
		target = datastore.Candidate
	}
	if err := d.checkLock(target); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	if err := d.Schema.Validate(nil, req.Config); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	op := req.DefaultOperation
	if op == datastore.OpUnset {
		op = datastore.OpMerge
	}
	if err := d.Reg.Put(target, op, req.Config, d.Sess.ID); err != nil {
		return rpc.ErrReply(req.MessageID, mgmterror.NewOperationFailedApplicationError())
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) copyConfig(req *rpc.Request) *rpc.Reply {
	if err := d.checkLock(req.Target); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	if err := d.Reg.Copy(req.Source, req.Target); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	if req.Target == datastore.Candidate {
		d.Reg.MarkClean(datastore.Candidate)
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) deleteConfig(req *rpc.Request) *rpc.Reply {
	if req.Target == datastore.Running {
		return rpc.ErrReply(req.MessageID, mgmterror.NewOperationNotSupportedApplicationError())
	}
	if err := d.checkLock(req.Target); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	// "clears and recreates empty" (spec §4.2): the datastore stays
	// registered, just with no content, so a later get-config against it
	// doesn't fail with "datastore does not exist".
	if err := d.Reg.Delete(req.Target); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	if err := d.Reg.Create(req.Target); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) lock(req *rpc.Request) *rpc.Reply {
	if err := d.Reg.Lock(req.Target, d.Sess.ID); err != nil {
		if le, ok := err.(*datastore.LockError); ok {
			metrics.LockDeniedTotal.Inc()
			return rpc.ErrReply(req.MessageID, mgmterror.NewLockDeniedError(strconv.FormatInt(le.Holder, 10)))
		}
		return rpc.ErrReply(req.MessageID, err)
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) unlock(req *rpc.Request) *rpc.Reply {
	if holder := d.Reg.IsLocked(req.Target); holder != 0 && holder != d.Sess.ID {
		le := mgmterror.NewLockDeniedError(strconv.FormatInt(holder, 10))
		le.Message = fmt.Sprintf("pid=%d piddb=%d", d.Sess.ID, holder)
		return rpc.ErrReply(req.MessageID, le)
	}
	if err := d.Reg.Unlock(req.Target, d.Sess.ID); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) closeSession(req *rpc.Request) *rpc.Reply {
	d.Sessions.Destroy(d.Sess.ID)
	return rpc.OK(req.MessageID)
}

func (d *Disp) killSession(req *rpc.Request) *rpc.Reply {
	if !d.Superuser && req.KillSessionID != d.Sess.ID {
		return rpc.ErrReply(req.MessageID, mgmterror.NewAccessDeniedApplicationError())
	}
	if err := d.Sessions.KillSession(req.KillSessionID); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) validate(req *rpc.Request) *rpc.Reply {
	src := req.Source
	if src == "" {
		src = datastore.Candidate
	}
	if _, err := d.Engine.Validate(src); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) commit(req *rpc.Request) *rpc.Reply {
	timeout := time.Duration(req.ConfirmTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	persistID := req.PersistID
	if req.Confirmed && req.Persist != "" && persistID == "" {
		// The client asked for a persistent confirmed-commit but didn't
		// supply its own identifier; generate one and hand it back so a
		// later process can confirm it (spec §4.4: persist-id is how a
		// confirming commit survives the originating session closing).
		persistID = uuid.NewString()
	}
	result, err := d.CC.Commit(d.Sess.ID, req.Confirmed, timeout, req.Persist, persistID, datastore.Candidate)
	if err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	if result.Commit != nil && result.Commit.Partial {
		var errs []error
		for _, e := range result.Commit.Errors {
			errs = append(errs, e)
		}
		return rpc.ErrReply(req.MessageID, errs...)
	}
	if persistID != req.PersistID {
		data := datastore.NewContainer("data")
		data.Put(datastore.NewLeaf("persist-id", persistID))
		return rpc.WithData(req.MessageID, data)
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) discardChanges(req *rpc.Request) *rpc.Reply {
	if err := d.Engine.Discard(); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) cancelCommit(req *rpc.Request) *rpc.Reply {
	if err := d.CC.CancelCommit(d.Sess.ID, req.PersistID, req.Force); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	return rpc.OK(req.MessageID)
}

func (d *Disp) createSubscription(req *rpc.Request) *rpc.Reply {
	if _, err := notify.Subscribe(d.Bus, d.Sess.ID, req.Stream, req.FilterKind, req.Filter, 32); err != nil {
		return rpc.ErrReply(req.MessageID, err)
	}
	return rpc.OK(req.MessageID)
}

// setDebug is the debug-level change RPC (spec §4.2), backed by
// common.SetConfigDebug, the teacher's own implementation of this
// operation.
func (d *Disp) setDebug(req *rpc.Request) *rpc.Reply {
	status, err := common.SetConfigDebug(req.LogName, req.LogLevel)
	if err != nil {
		e := mgmterror.NewOperationFailedApplicationError()
		e.Message = err.Error()
		return rpc.ErrReply(req.MessageID, e)
	}
	data := datastore.NewContainer("data")
	data.Put(datastore.NewLeaf("status", status))
	return rpc.WithData(req.MessageID, data)
}
