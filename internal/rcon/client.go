package rcon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorcon/rcon"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/config"
)

// Config holds the remote console connection settings.
type Config struct {
	Address  string
	Password string
	Timeout  time.Duration
}

// FromConfig converts the rcon section of the panel configuration.
func FromConfig(cfg config.RCONConfig) Config {
	return Config{
		Address:  cfg.RCONAddress(),
		Password: cfg.Password,
		Timeout:  config.ParseDuration(cfg.Timeout, 5*time.Second),
	}
}

// Client runs commands over the Source RCON protocol. The connection is
// opened lazily and reused between commands. A command is re-sent on a fresh
// connection only when writing it to a cached connection failed, so the
// server never sees it twice.
type Client struct {
	cfg  Config
	mu   sync.Mutex
	conn *rcon.Conn

	// active is the connection carrying the command in flight.
	active atomic.Pointer[rcon.Conn]
}

// NewClient creates a client. No connection is made until the first command.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{cfg: cfg}
}

// Address returns host:port of the remote console.
func (c *Client) Address() string {
	return c.cfg.Address
}

// Execute sends command and returns the server's reply.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", rcon.ErrCommandEmpty
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := c.execute(ctx, command)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		// Closing the in-flight connection fails its pending read, which
		// releases the lock for the next command.
		if conn := c.active.Load(); conn != nil {
			conn.Close()
		}
		return "", ctx.Err()
	}
}

func (c *Client) execute(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		reused := c.conn != nil
		if !reused {
			conn, err := rcon.Dial(c.cfg.Address, c.cfg.Password,
				rcon.SetDialTimeout(c.cfg.Timeout),
				rcon.SetDeadline(c.cfg.Timeout),
			)
			if err != nil {
				if errors.Is(err, rcon.ErrAuthFailed) {
					return "", fmt.Errorf("rcon authentication failed for %s: %w", c.cfg.Address, err)
				}
				return "", fmt.Errorf("failed to connect to rcon at %s: %w", c.cfg.Address, err)
			}
			c.conn = conn
		}

		c.active.Store(c.conn)
		if err := ctx.Err(); err != nil {
			c.active.Store(nil)
			return "", err
		}
		out, err := c.conn.Execute(command)
		c.active.Store(nil)
		if err == nil {
			return out, nil
		}

		c.conn.Close()
		c.conn = nil
		if !reused || !notSent(err) || ctx.Err() != nil {
			return "", fmt.Errorf("rcon command failed: %w", err)
		}
		log.Printf("[RCON] Cached connection is gone, reconnecting: %v", err)
	}
	return "", fmt.Errorf("rcon command failed")
}

// notSent reports whether err came from writing the request, so the server
// cannot have run the command.
func notSent(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "write"
}

// Close drops the cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
