// Package hmackey generates journal signing keys in the env format read by
// the instance runtime.
package hmackey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const minBytes = 16

// Config holds configuration for key generation.
type Config struct {
	Bytes int
	// KeyID, when set, emits a rotation-ready keyset entry instead of a
	// single key.
	KeyID string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes")
	fs.StringVar(&cfg.KeyID, "key-id", "", "key id for CASEWORK_EVENT_HMAC_KEYS output")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	return cfg, nil
}

// Run generates the key and writes env assignments to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes < minBytes {
		return fmt.Errorf("bytes must be at least %d", minBytes)
	}
	if strings.ContainsAny(cfg.KeyID, "=, ") {
		return errors.New("key id must not contain '=', ',' or spaces")
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	key := hex.EncodeToString(buf)
	if cfg.KeyID == "" {
		_, err := fmt.Fprintf(out, "CASEWORK_EVENT_HMAC_KEY=%s\n", key)
		return err
	}
	_, err := fmt.Fprintf(out, "CASEWORK_EVENT_HMAC_KEYS=%s=%s\nCASEWORK_EVENT_HMAC_KEY_ID=%s\n", cfg.KeyID, key, cfg.KeyID)
	return err
}
