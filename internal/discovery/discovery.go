package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// AlreadyRunningError reports that a healthy daemon already owns the state
// file. Callers should attach to it instead of starting a second instance.
type AlreadyRunningError struct {
	Host string
	Port int
	PID  int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("daemon already running at %s:%d (pid %d)", e.Host, e.Port, e.PID)
}

// Listen resolves a listener for the daemon. When the state file names a
// still-healthy instance it returns AlreadyRunningError. Otherwise it binds
// the preferred port, scanning up to scanRange fallback ports when another
// process holds it; the caller records the resolved port in the state file.
func Listen(ctx context.Context, statePath, host string, port, scanRange int) (net.Listener, int, error) {
	if sf, err := ReadStateFile(statePath); err == nil {
		if probeHealth(ctx, sf.Host, sf.Port) {
			return nil, 0, &AlreadyRunningError{Host: sf.Host, Port: sf.Port, PID: sf.PID}
		}
		slog.Info("stale state file, previous daemon gone", "pid", sf.PID, "port", sf.Port)
	}

	var lastErr error
	for i := 0; i <= scanRange; i++ {
		p := port + i
		ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", p)))
		if err == nil {
			if i > 0 {
				slog.Info("preferred port occupied, using fallback", "preferred", port, "resolved", p)
			}
			return ln, p, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("no free port in [%d,%d]: %w", port, port+scanRange, lastErr)
}

// probeHealth checks whether a relayd instance answers at host:port. Any
// process that does not speak our health contract counts as unrelated.
func probeHealth(ctx context.Context, host string, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var body struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Service == "relayd" && body.Status == "ok"
}
