package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// profile is the optional startup configuration, read as hujson so
// comments and trailing commas are fine in hand-edited files.
type profile struct {
	Database  string `json:"database"`
	BlockSize int    `json:"block_size"`
	Sync      bool   `json:"sync"`
	NoLock    bool   `json:"no_lock"`
	NoMmap    bool   `json:"no_mmap"`
	NumSync   bool   `json:"numsync"`
}

// profilePath returns the explicit --profile path or the default under
// the user config directory. Empty when no default can be determined.
func profilePath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bucketdb", "profile.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "bucketdb", "profile.json")
}

// applyProfile fills unset options from the profile file. A missing
// default profile is not an error; a broken one is.
func applyProfile(opts *cliOptions) error {
	path := profilePath(opts.profile)
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) && opts.profile == "" {
			return nil
		}

		return fmt.Errorf("profile %s: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("profile %s: %w", path, err)
	}

	var p profile
	if err := json.Unmarshal(std, &p); err != nil {
		return fmt.Errorf("profile %s: %w", path, err)
	}

	// Flags win over the profile.
	if opts.dbPath == "" {
		opts.dbPath = p.Database
	}

	if opts.blockSize == 0 {
		opts.blockSize = p.BlockSize
	}

	opts.syncMode = opts.syncMode || p.Sync
	opts.noLock = opts.noLock || p.NoLock
	opts.noMmap = opts.noMmap || p.NoMmap
	opts.numSync = opts.numSync || p.NumSync

	return nil
}
