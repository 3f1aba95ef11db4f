// Copyright (c) 2019, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

// Package rpc defines the wire message shapes exchanged between a
// front-end and the confd backend: a NETCONF-flavored rpc/rpc-reply
// pair (spec §3/§6), rooted at an operation name rather than a
// method-name-plus-positional-args tuple. The concrete transport framing
// (length-prefixing, XML parsing) is a named external collaborator —
// this package only defines the in-memory shapes and the operation
// vocabulary.
package rpc

import (
	"bytes"
	"fmt"

	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/mgmterror"
)

// Operation is the RPC operation name, per spec §4.2.
type Operation string

const (
	GetConfig          Operation = "get-config"
	Get                Operation = "get"
	EditConfig         Operation = "edit-config"
	CopyConfig         Operation = "copy-config"
	DeleteConfig       Operation = "delete-config"
	Lock               Operation = "lock"
	Unlock             Operation = "unlock"
	CloseSession       Operation = "close-session"
	KillSession        Operation = "kill-session"
	Validate           Operation = "validate"
	Commit             Operation = "commit"
	DiscardChanges     Operation = "discard-changes"
	CancelCommit       Operation = "cancel-commit"
	CreateSubscription Operation = "create-subscription"
	SetDebug           Operation = "set-debug"
)

// Request is one client-to-backend RPC. Only the fields relevant to Op
// are populated; unused fields are left zero. This flattened shape
// stands in for a literal XML-tree-rooted request, per SPEC_FULL.md §4:
// the tree codec itself is a named external collaborator.
type Request struct {
	MessageID string
	Op        Operation
	SessionID int64

	Source           string
	Target           string
	DefaultOperation datastore.Op
	Config           *datastore.Node
	FilterPath       []string
	IncludeState     bool

	Force bool

	Confirmed             bool
	ConfirmTimeoutSeconds uint32
	Persist               string
	PersistID             string

	KillSessionID int64

	Stream     string
	FilterKind string
	Filter     string

	LogName  string
	LogLevel string
}

// RPCError is one tagged error record rendered for the wire, mirroring
// RFC 6241 section 4.3's rpc-error element.
type RPCError struct {
	ErrorType    string
	ErrorTag     string
	ErrorAppTag  string
	ErrorPath    string
	ErrorMessage string
	ErrorInfo    map[string]string
}

// Reply is one backend-to-client RPC reply.
type Reply struct {
	MessageID string
	OK        bool
	Data      *datastore.Node
	Errors    []*RPCError
}

func (r *Reply) Error() string {
	var b bytes.Buffer
	for i, e := range r.Errors {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%s/%s: %s", e.ErrorType, e.ErrorTag, e.ErrorMessage)
	}
	return b.String()
}

// OK builds a bare success reply.
func OK(messageID string) *Reply {
	return &Reply{MessageID: messageID, OK: true}
}

// WithData builds a success reply carrying a data payload (get/get-config).
func WithData(messageID string, data *datastore.Node) *Reply {
	return &Reply{MessageID: messageID, OK: true, Data: data}
}

// ErrReply builds an error reply from one or more errors, converting
// *mgmterror.Error values into a proper rpc-error and falling back to a
// generic application/operation-failed for anything else, per spec §7.
func ErrReply(messageID string, errs ...error) *Reply {
	r := &Reply{MessageID: messageID, OK: false}
	for _, err := range errs {
		r.Errors = append(r.Errors, errorToRPCError(err))
	}
	return r
}

func errorToRPCError(err error) *RPCError {
	if me, ok := err.(*mgmterror.Error); ok {
		return &RPCError{
			ErrorType:    string(me.Kind),
			ErrorTag:     me.Tag,
			ErrorAppTag:  me.AppTag,
			ErrorPath:    me.Path,
			ErrorMessage: me.Message,
			ErrorInfo:    me.Info,
		}
	}
	if list, ok := err.(mgmterror.List); ok && len(list) > 0 {
		return errorToRPCError(list[0])
	}
	return &RPCError{
		ErrorType:    string(mgmterror.KindApplication),
		ErrorTag:     mgmterror.TagOperationFailed,
		ErrorMessage: err.Error(),
	}
}
