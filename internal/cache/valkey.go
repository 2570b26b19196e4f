package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider speaks the RESP protocol to a Valkey/Redis-compatible
// server. Connections are per-operation; the provider keeps no pool.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          bool
}

// NewValkeyProvider validates the configuration and pings the target so a
// bad address or credential fails at startup, not mid-request.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}

	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.do(ctx, func(c *respConn) error {
		reply, err := c.roundTrip("PING")
		if err != nil {
			return err
		}
		if reply.kind != '+' || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING reply: %s", reply.data)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.do(ctx, func(c *respConn) error {
		reply, err := c.roundTrip("GET", key)
		if err != nil {
			return err
		}
		switch reply.kind {
		case '_':
			return ErrCacheMiss
		case '$':
			payload = reply.data
			return nil
		default:
			return fmt.Errorf("unexpected GET reply kind %q", reply.kind)
		}
	})
	return payload, err
}

func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, func(c *respConn) error {
		args := setArgs(key, value, ttl, false)
		reply, err := c.roundTrip(args...)
		if err != nil {
			return err
		}
		if reply.kind != '+' {
			return fmt.Errorf("unexpected SET reply: %s", reply.data)
		}
		return nil
	})
}

// SetNX writes the value only when the key is absent. The boolean result is
// the lease-acquisition answer.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var acquired bool
	err := p.do(ctx, func(c *respConn) error {
		args := setArgs(key, value, ttl, true)
		reply, err := c.roundTrip(args...)
		if err != nil {
			return err
		}
		switch reply.kind {
		case '+':
			acquired = true
		case '_':
			acquired = false
		default:
			return fmt.Errorf("unexpected SET NX reply kind %q", reply.kind)
		}
		return nil
	})
	return acquired, err
}

func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.do(ctx, func(c *respConn) error {
		_, err := c.roundTrip("DEL", key)
		return err
	})
}

func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, nx bool) []string {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if nx {
		args = append(args, "NX")
	}
	return args
}

func (p *ValkeyProvider) do(ctx context.Context, fn func(*respConn) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	if err := p.auth(conn); err != nil {
		return err
	}
	return fn(conn)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}

	return &respConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		cfg:    p.cfg,
	}, nil
}

func (p *ValkeyProvider) auth(c *respConn) error {
	if p.cfg.Password == "" {
		return nil
	}

	args := []string{"AUTH"}
	if p.cfg.Username != "" {
		args = append(args, p.cfg.Username)
	}
	args = append(args, p.cfg.Password)

	reply, err := c.roundTrip(args...)
	if err != nil {
		return err
	}
	if reply.kind != '+' || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("auth failed: %s", reply.data)
	}
	return nil
}

// respConn wraps one connection with just enough RESP framing for the
// provider's command set.
type respConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	cfg    ValkeyConfig
}

type respReply struct {
	kind byte // '+', '$', ':' or '_' (nil)
	data []byte
}

func (c *respConn) close() {
	_ = c.conn.Close()
}

func (c *respConn) roundTrip(args ...string) (respReply, error) {
	if err := c.writeCommand(args); err != nil {
		return respReply{}, err
	}
	return c.readReply()
}

func (c *respConn) writeCommand(args []string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}

	fmt.Fprintf(c.writer, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(c.writer, "$%d\r\n%s\r\n", len(arg), arg)
	}
	return c.writer.Flush()
}

func (c *respConn) readReply() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return respReply{}, err
	}

	prefix, err := c.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}

	switch prefix {
	case '+', ':':
		line, err := c.readLine()
		return respReply{kind: prefix, data: line}, err
	case '-':
		line, err := c.readLine()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, errors.New(string(line))
	case '$':
		line, err := c.readLine()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size < 0 {
			return respReply{kind: '_'}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("invalid bulk string termination")
		}
		return respReply{kind: '$', data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
