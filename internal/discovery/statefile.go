// Package discovery manages the daemon's endpoint discovery contract: the
// state file clients read to find a running instance, and the bind logic
// that resolves a usable port.
package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const stateFileName = "daemon.json"

// StateFile records the endpoint of a running daemon. Clients read it to
// attach; the token is this instance's bearer credential.
type StateFile struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
}

// StatePath returns the state file path under dir. Empty dir means ~/.relayd.
func StatePath(dir string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".relayd")
	}
	return filepath.Join(dir, stateFileName), nil
}

// WriteStateFile atomically writes sf, permissions 0600: the token must not
// be readable by other users, and a reader must never observe a partial
// write. Write-to-temp then rename keeps both.
func WriteStateFile(path string, sf *StateFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// ReadStateFile reads a state file. os.ErrNotExist passes through so callers
// can distinguish "no daemon" from corruption.
func ReadStateFile(path string) (*StateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf StateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &sf, nil
}

// RemoveStateFile deletes the state file if it belongs to pid. A newer
// instance's file is left alone.
func RemoveStateFile(path string, pid int) error {
	sf, err := ReadStateFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if sf.PID != pid {
		return nil
	}
	return os.Remove(path)
}

// GenerateToken returns a 32-byte hex bearer token.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
