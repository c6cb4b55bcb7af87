package commands

import (
	"bufio"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// CommandsFile is the per-mod file listing extra console commands.
const CommandsFile = "commands.txt"

// BuiltIn are the console commands every server understands.
var BuiltIn = []string{
	"/ban", "/kick", "/unban", "/mute", "/unmute", "/tp", "/additem",
	"/setaccesslevel", "/saveworld", "/shutdown", "/restart", "/stop",
	"/start", "/settime", "/setweather", "/clearzonemods", "/removebuildings",
	"/getplayers", "/getplayerdata", "/pause", "/unpause", "/givexp",
	"/resetpassword", "/teleport", "/spawnitem", "/spawnvehicle",
	"/setspawnregion", "/addvehicle", "/removevehicle", "/setdifficulty",
	"/setmaxplayers", "/setpvp", "/setservername", "/setmotd", "/listcommands",
}

// Catalog holds the known console commands: the built-ins plus those found in
// commands.txt files under the mods directory.
type Catalog struct {
	modsDir string

	mu       sync.RWMutex
	commands []string
}

func NewCatalog(modsDir string) *Catalog {
	c := &Catalog{modsDir: modsDir}
	c.commands = merge(BuiltIn, nil)
	return c
}

// ModsDir returns the directory scanned for commands.txt files.
func (c *Catalog) ModsDir() string {
	return c.modsDir
}

// Reload rescans the mods directory. A missing directory leaves only the built-ins.
func (c *Catalog) Reload() error {
	found, err := Discover(c.modsDir)
	if err != nil {
		return err
	}

	all := merge(BuiltIn, found)

	c.mu.Lock()
	c.commands = all
	c.mu.Unlock()

	log.Printf("[Commands] Loaded %d commands (%d from mods)", len(all), len(found))
	return nil
}

// All returns every known command, sorted.
func (c *Catalog) All() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.commands...)
}

// Suggest returns up to limit commands starting with prefix, ignoring case.
// A limit of zero or less returns every match.
func (c *Catalog) Suggest(prefix string, limit int) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))

	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := []string{}
	for _, cmd := range c.commands {
		if !strings.HasPrefix(strings.ToLower(cmd), prefix) {
			continue
		}
		matches = append(matches, cmd)
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches
}

// Discover walks dir and collects every line starting with "/" from commands.txt files.
func Discover(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("[Commands] Skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Name() != CommandsFile {
			return nil
		}
		cmds, err := readCommandsFile(path)
		if err != nil {
			log.Printf("[Commands] Failed to read %s: %v", path, err)
			return nil
		}
		found = append(found, cmds...)
		return nil
	})
	return found, err
}

func readCommandsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cmds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "/") && len(line) > 1 {
			cmds = append(cmds, line)
		}
	}
	return cmds, scanner.Err()
}

// merge dedupes case-insensitively, keeping the first spelling, and sorts.
func merge(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, cmd := range list {
			key := strings.ToLower(cmd)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}
