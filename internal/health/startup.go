// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/f1/livetiming/internal/config"
	"github.com/f1/livetiming/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the daemon arms
// anything, the way the teacher's pre-flight check validates its own
// receiver/FFmpeg dependencies before serving traffic.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkWritableDir(logger, "data_dir", cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkWritableDir(logger, "cache_dir", cfg.CacheDir); err != nil {
		return fmt.Errorf("cache directory check failed: %w", err)
	}
	if err := checkListenAddr(logger, "http_addr", cfg.HTTPAddr); err != nil {
		return err
	}
	if err := checkListenAddr(logger, "metrics_addr", cfg.MetricsAddr); err != nil {
		return err
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkWritableDir(logger zerolog.Logger, field, path string) error {
	if path == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("%s %q is not creatable: %w", field, path, err)
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("%s %q is not writable: %w", field, path, err)
	}
	_ = os.Remove(probe)
	logger.Info().Str("path", path).Str("field", field).Msg("directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, field, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid %s port %q in %q", field, port, addr)
	}
	logger.Info().Str("addr", addr).Str("field", field).Msg("listen address is valid")
	return nil
}
