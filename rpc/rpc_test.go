// Copyright (c) 2019, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

package rpc

import (
	"testing"

	"github.com/opencfgd/confd/internal/mgmterror"
)

func TestErrReplyConvertsMgmtError(t *testing.T) {
	r := ErrReply("msg-1", mgmterror.NewLockDeniedError("3"))
	if r.OK {
		t.Fatalf("expected error reply to not be ok")
	}
	if len(r.Errors) != 1 || r.Errors[0].ErrorTag != mgmterror.TagLockDenied {
		t.Fatalf("expected lock-denied tag, got %+v", r.Errors)
	}
}

func TestErrReplyFallsBackForPlainError(t *testing.T) {
	r := ErrReply("msg-2", fmtErr("boom"))
	if len(r.Errors) != 1 || r.Errors[0].ErrorTag != mgmterror.TagOperationFailed {
		t.Fatalf("expected operation-failed fallback, got %+v", r.Errors)
	}
}

type fmtErr string

func (e fmtErr) Error() string { return string(e) }
