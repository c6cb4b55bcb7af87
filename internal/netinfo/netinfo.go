package netinfo

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// DefaultIPURL returns the caller's address as plain text.
const DefaultIPURL = "https://api.ipify.org"

// Resolver looks up the host's public address.
type Resolver struct {
	URL    string
	Client *http.Client
}

func NewResolver(url string, timeout time.Duration) *Resolver {
	if strings.TrimSpace(url) == "" {
		url = DefaultIPURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{URL: url, Client: &http.Client{Timeout: timeout}}
}

// PublicIP fetches and validates the public address.
func (r *Resolver) PublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create ip request: %w", err)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query public ip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("public ip lookup failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("failed to read public ip: %w", err)
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("public ip lookup returned %q", ip)
	}
	return ip, nil
}

// GameSettings are the values read from the game's ini file. Zero means not set.
type GameSettings struct {
	Port       int
	MaxPlayers int
}

// ReadGameINI reads the port and player slots from a game server ini file.
// Keys are looked up in [Server] first and then in the unnamed section.
func ReadGameINI(path string) (GameSettings, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:             true,
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, path)
	if err != nil {
		return GameSettings{}, fmt.Errorf("failed to load %s: %w", path, err)
	}

	var settings GameSettings
	for _, name := range []string{"server", ini.DefaultSection} {
		section, err := f.GetSection(name)
		if err != nil {
			continue
		}
		if settings.Port == 0 {
			settings.Port = intKey(section, "port", "defaultport")
		}
		if settings.MaxPlayers == 0 {
			settings.MaxPlayers = intKey(section, "maxplayers")
		}
	}

	if settings.Port == 0 && settings.MaxPlayers == 0 {
		return settings, fmt.Errorf("no port or player settings in %s", path)
	}
	return settings, nil
}

func intKey(section *ini.Section, names ...string) int {
	for _, name := range names {
		if !section.HasKey(name) {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(section.Key(name).String()))
		if err == nil && v > 0 {
			return v
		}
	}
	return 0
}
