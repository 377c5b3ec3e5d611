package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alanyoungcy/tradecore/internal/app"
	"github.com/alanyoungcy/tradecore/internal/crypto"
)

const remoteTimeout = 30 * time.Second

// remoteFlags are shared by commands that can talk to a running API server.
type remoteFlags struct {
	configPath string
	remote     string
	apiKey     string
}

func (r *remoteFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.configPath, "config", "config.toml", "path to configuration file")
	fs.StringVar(&r.remote, "remote", "", "base URL of a running API server, e.g. http://localhost:8000")
	fs.StringVar(&r.apiKey, "api-key", os.Getenv("TRADECORE_SERVER_API_KEY"), "API key for -remote")
}

func statusCmd(args []string) error {
	var rf remoteFlags
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	rf.register(fs)
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rf.remote != "" {
		body, err := remoteCall(ctx, http.MethodGet, rf.remote, "/api/status", rf.apiKey)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, json.RawMessage(body))
	}

	logger := newLogger(os.Stderr, "warn")
	cfg, err := loadConfig(rf.configPath, logger)
	if err != nil {
		return err
	}
	application := app.New(cfg, newLogger(os.Stderr, cfg.LogLevel))
	defer application.Close()

	snap, err := application.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, snap)
}

func closeAllCmd(args []string) error {
	var rf remoteFlags
	fs := flag.NewFlagSet("close-all", flag.ExitOnError)
	rf.register(fs)
	reason := fs.String("reason", "cli", "reason recorded with each exit")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rf.remote != "" {
		body, err := remoteCall(ctx, http.MethodPost, rf.remote, "/api/trading/close-all", rf.apiKey)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, json.RawMessage(body))
	}

	logger := newLogger(os.Stderr, "warn")
	cfg, err := loadConfig(rf.configPath, logger)
	if err != nil {
		return err
	}
	logger = newLogger(os.Stderr, cfg.LogLevel)
	application := app.New(cfg, logger)
	defer application.Close()

	n, err := application.CloseAll(ctx, *reason)
	if err != nil {
		logger.Error("close-all failed", slog.Int("closed", n), slog.String("error", err.Error()))
		return err
	}
	return printJSON(os.Stdout, map[string]int{"closed": n})
}

func sealSecretCmd(args []string) error {
	fs := flag.NewFlagSet("seal-secret", flag.ExitOnError)
	out := fs.String("out", "", "file to write the sealed secret to")
	password := fs.String("password", os.Getenv("TRADECORE_BROKER_SECRET_PASSWORD"), "sealing password")
	_ = fs.Parse(args)

	if *out == "" {
		return errors.New("seal-secret: -out is required")
	}
	if *password == "" {
		return errors.New("seal-secret: set -password or TRADECORE_BROKER_SECRET_PASSWORD")
	}

	raw, err := io.ReadAll(io.LimitReader(os.Stdin, 64<<10))
	if err != nil {
		return fmt.Errorf("seal-secret: read stdin: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return errors.New("seal-secret: no secret on stdin")
	}

	blob, err := crypto.Seal(secret, *password)
	if err != nil {
		return fmt.Errorf("seal-secret: %w", err)
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("seal-secret: write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "sealed secret written to %s\n", *out)
	return nil
}

// remoteCall performs one authenticated request against the API server and
// returns the response body. Non-2xx responses are errors.
func remoteCall(ctx context.Context, method, base, path, apiKey string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("remote: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
