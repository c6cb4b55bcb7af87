package server

import (
	"context"
	"fmt"
)

// Dispatch channels.
const (
	ChannelStdin = "stdin"
	ChannelRCON  = "rcon"
)

// RemoteConsole is an out-of-band command channel exposed by the game server.
type RemoteConsole interface {
	Execute(ctx context.Context, command string) (string, error)
}

// DispatchResult describes where a command went and what came back.
type DispatchResult struct {
	Command string `json:"command"`
	Channel string `json:"channel"`
	Output  string `json:"output,omitempty"`
}

// SetRemoteConsole attaches rc for Dispatch. A nil rc restores stdin dispatch.
func (c *Controller) SetRemoteConsole(rc RemoteConsole) {
	c.mu.Lock()
	c.remote = rc
	c.mu.Unlock()
}

// Dispatch sends text through the remote console when one is attached and
// through stdin otherwise. Either way the server must be Running.
func (c *Controller) Dispatch(ctx context.Context, text string) (DispatchResult, error) {
	cleaned, err := validateCommand(text)
	if err != nil {
		return DispatchResult{}, err
	}

	c.mu.RLock()
	p := c.proc
	rc := c.remote
	c.mu.RUnlock()
	if p == nil {
		return DispatchResult{}, ErrNotRunning
	}

	result := DispatchResult{Command: cleaned, Channel: ChannelStdin}
	if rc == nil {
		return result, p.write(cleaned, c.opts.WriteTimeout)
	}

	result.Channel = ChannelRCON
	output, err := rc.Execute(ctx, cleaned)
	if err != nil {
		return result, fmt.Errorf("remote console: %w", err)
	}
	result.Output = output
	return result, nil
}
