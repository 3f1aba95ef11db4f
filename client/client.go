// Copyright (c) 2017-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: MPL-2.0

// Package client is the thin request/reply plumbing a front end (the
// confdc CLI, or any other process speaking to the confd backend over
// its Unix socket) uses to multiplex requests onto one connection, per
// spec.md §1's framing of front ends as external collaborators.
package client

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/rpc"
)

// Client is a single connection to the confd backend.
type Client struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	seq  int
}

// Dial connects to the backend's Unix socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// Close ends the connection (sends close-session first, best-effort).
func (c *Client) Close() error {
	_, _ = c.Call(&rpc.Request{Op: rpc.CloseSession})
	return c.conn.Close()
}

// Call sends req and waits for the matching reply. MessageID is
// assigned here if the caller left it blank.
func (c *Client) Call(req *rpc.Request) (*rpc.Reply, error) {
	if req.MessageID == "" {
		c.seq++
		req.MessageID = fmt.Sprintf("confdc-%d", c.seq)
	}
	if err := c.enc.Encode(req); err != nil {
		return nil, err
	}
	reply := new(rpc.Reply)
	if err := c.dec.Decode(reply); err != nil {
		return nil, err
	}
	if !reply.OK {
		return reply, fmt.Errorf("%s", reply.Error())
	}
	return reply, nil
}

// GetConfig is a convenience wrapper for the get-config RPC.
func (c *Client) GetConfig(source string, filter []string) (*datastore.Node, error) {
	reply, err := c.Call(&rpc.Request{Op: rpc.GetConfig, Source: source, FilterPath: filter})
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// EditConfig is a convenience wrapper for the edit-config RPC.
func (c *Client) EditConfig(target string, op datastore.Op, config *datastore.Node) error {
	_, err := c.Call(&rpc.Request{Op: rpc.EditConfig, Target: target, DefaultOperation: op, Config: config})
	return err
}

// Commit is a convenience wrapper for the commit RPC, optionally as a
// confirmed-commit.
func (c *Client) Commit(confirmed bool, timeoutSeconds uint32, persist, persistID string) error {
	_, err := c.Call(&rpc.Request{
		Op:                    rpc.Commit,
		Confirmed:             confirmed,
		ConfirmTimeoutSeconds: timeoutSeconds,
		Persist:               persist,
		PersistID:             persistID,
	})
	return err
}
