// Package config loads the node's three-line positional configuration
// file: peer-discovery seed hostname, TCP port, and start timestamp.
// Built on bufio/os only; a 3-line positional format has no parsing
// concern complex enough to justify a third-party config or flag
// library.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultPort is used when the config file's port line is missing,
// blank, or unparseable.
const DefaultPort = 18333

// Config is the seed hostname, TCP port, and start timestamp read from
// the configuration file.
type Config struct {
	Seed           string
	Port           uint16
	StartTimestamp uint32
}

// Load reads a 3-line file: line 1 is the seed hostname, line 2 is the
// TCP port, line 3 is the start timestamp (Unix seconds). Blocks with a
// header timestamp at or before StartTimestamp are assumed already
// present via headers-only and are not fetched in full. Trailing lines
// are ignored; a missing port line leaves Port at DefaultPort and a
// missing timestamp line leaves StartTimestamp at zero.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := &Config{Port: DefaultPort}

	scanner := bufio.NewScanner(f)
	for line := 0; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		switch line {
		case 0:
			cfg.Seed = text
		case 1:
			if port, err := strconv.ParseUint(text, 10, 16); err == nil {
				cfg.Port = uint16(port)
			}
		case 2:
			if ts, err := strconv.ParseUint(text, 10, 32); err == nil {
				cfg.StartTimestamp = uint32(ts)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if cfg.Seed == "" {
		return nil, fmt.Errorf("config: %s: missing seed hostname on line 1", path)
	}
	return cfg, nil
}
