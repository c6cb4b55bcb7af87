package server

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// buildCommand resolves path and prepares the command that launches it.
// Shell scripts go through /bin/sh and batch files through cmd.exe; the
// working directory is always the script's own directory.
func buildCommand(path string) (*exec.Cmd, string, error) {
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return nil, path, &SpawnError{Path: path, Detail: "invalid path", Err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, abs, &SpawnError{Path: abs, Detail: "executable not found", Err: err}
	}
	if info.IsDir() {
		return nil, abs, &SpawnError{Path: abs, Detail: "path is a directory"}
	}

	var cmd *exec.Cmd
	ext := strings.ToLower(filepath.Ext(abs))
	switch {
	case ext == ".sh":
		cmd = exec.Command("/bin/sh", abs)
	case runtime.GOOS == "windows" && (ext == ".bat" || ext == ".cmd"):
		cmd = exec.Command("cmd.exe", "/C", abs)
	default:
		cmd = exec.Command(abs)
	}

	cmd.Dir = filepath.Dir(abs)
	cmd.Env = os.Environ()
	setProcAttr(cmd)
	return cmd, abs, nil
}
