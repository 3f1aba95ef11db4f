// Package sshtransport is an optional NETCONF-over-SSH-style front end
// (spec §9 ambient stack: "transport"): it authenticates inbound SSH
// connections against an authorized_keys file, then for each session
// channel that requests the "confd" subsystem, hands the channel to
// the daemon as an ordinary connection (server.Srv.HandleConn) by
// wrapping it in a net.Conn adapter. This is a second front door onto
// the same JSON-framed rpc.Request/Reply protocol the Unix-socket
// listener speaks (server/conn.go) — not a NETCONF XML codec, which
// remains a named external collaborator per spec §1.
package sshtransport

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/opencfgd/confd/server"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Config names the host key and authorized_keys files used to
// authenticate inbound connections.
type Config struct {
	HostKeyPath        string
	AuthorizedKeysPath string
}

// Serve listens on addr and services SSH connections until the
// listener is closed or accept fails.
func Serve(addr string, cfg Config, srv *server.Srv, log zerolog.Logger) error {
	sshConfig, err := buildServerConfig(cfg)
	if err != nil {
		return fmt.Errorf("sshtransport: %w", err)
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sshtransport: listen %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Msg("ssh transport listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go handleConn(conn, sshConfig, srv, log)
	}
}

func buildServerConfig(cfg Config) (*ssh.ServerConfig, error) {
	allowed, err := loadAuthorizedKeys(cfg.AuthorizedKeysPath)
	if err != nil {
		return nil, err
	}

	sc := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			marshaled := key.Marshal()
			for _, k := range allowed {
				if string(k.Marshal()) == string(marshaled) {
					return &ssh.Permissions{Extensions: map[string]string{"user": conn.User()}}, nil
				}
			}
			return nil, fmt.Errorf("unauthorized public key for user %q", conn.User())
		},
	}

	hostKeyBytes, err := os.ReadFile(cfg.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(hostKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}
	sc.AddHostKey(signer)
	return sc, nil
}

func loadAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authorized_keys: %w", err)
	}
	var keys []ssh.PublicKey
	for len(raw) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(raw)
		if err != nil {
			break
		}
		keys = append(keys, key)
		raw = rest
	}
	return keys, nil
}

func handleConn(conn net.Conn, cfg *ssh.ServerConfig, srv *server.Srv, log zerolog.Logger) {
	sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("ssh handshake failed")
		conn.Close()
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests, sc, srv, log)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request, sc *ssh.ServerConn, srv *server.Srv, log zerolog.Logger) {
	for req := range requests {
		ok := req.Type == "subsystem" && subsystemName(req.Payload) == "confd"
		req.Reply(ok, nil)
		if ok {
			srv.HandleConn(&channelConn{Channel: ch, sc: sc})
			return
		}
	}
}

// subsystemName decodes the SSH_MSG_CHANNEL_REQUEST "subsystem" payload:
// a uint32 length prefix followed by the name (RFC 4254 section 6.5).
func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	if len(payload) < 4+n {
		return ""
	}
	return string(payload[4 : 4+n])
}

// channelConn adapts an ssh.Channel to net.Conn so it can be passed to
// server.Srv.HandleConn unmodified.
type channelConn struct {
	ssh.Channel
	sc *ssh.ServerConn
}

func (c *channelConn) LocalAddr() net.Addr                { return c.sc.LocalAddr() }
func (c *channelConn) RemoteAddr() net.Addr                { return c.sc.RemoteAddr() }
func (c *channelConn) SetDeadline(t time.Time) error       { return nil }
func (c *channelConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *channelConn) SetWriteDeadline(t time.Time) error  { return nil }
