// Package instance parses instance command flags and runs the serve and
// operator subcommands.
package instance

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	entrypoint "github.com/louisbranch/casework/internal/platform/cmd"
)

// Subcommands.
const (
	CommandServe   = "serve"
	CommandInspect = "inspect"
	CommandSend    = "send"
	CommandVerify  = "verify"
	CommandProbe   = "probe"
	CommandCatalog = "catalog"
)

// Journal backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

var validate = validator.New()

// Config holds instance command configuration.
type Config struct {
	Port             int           `env:"CASEWORK_INSTANCE_PORT" envDefault:"8090" validate:"min=1,max=65535"`
	Addr             string        `env:"CASEWORK_INSTANCE_ADDR"`
	Backend          string        `env:"CASEWORK_JOURNAL_BACKEND" envDefault:"sqlite" validate:"oneof=sqlite badger memory"`
	JournalPath      string        `env:"CASEWORK_JOURNAL_PATH" envDefault:"data/journal.db" validate:"required_unless=Backend memory"`
	EngineVersion    string        `env:"CASEWORK_ENGINE_VERSION" envDefault:"1.0.0" validate:"required"`
	DebugEnabled     bool          `env:"CASEWORK_DEBUG_ENABLED"`
	DebugConsole     bool          `env:"CASEWORK_DEBUG_CONSOLE"`
	SnapshotInterval int           `env:"CASEWORK_SNAPSHOT_INTERVAL" envDefault:"100" validate:"min=0"`
	MailboxSize      int           `env:"CASEWORK_MAILBOX_SIZE" envDefault:"64" validate:"min=1"`
	RestartDelay     time.Duration `env:"CASEWORK_RESTART_DELAY" envDefault:"200ms" validate:"min=0"`
	StallThreshold   time.Duration `env:"CASEWORK_STALL_THRESHOLD" envDefault:"10s" validate:"min=0"`
	LogLevel         string        `env:"CASEWORK_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Locale           string        `env:"CASEWORK_LOCALE" envDefault:"en-US" validate:"required"`

	Command      string `validate:"oneof=serve inspect send verify probe catalog"`
	InstanceType string
	InstanceID   string
	CommandType  string
	Payload      string
	ActorID      string
}

// ParseConfig parses environment and flags into Config. An optional leading
// subcommand selects the operation; serve is the default.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Command = CommandServe
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cfg.Command = args[0]
		args = args[1:]
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The instance gRPC health port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address for serve, target address for probe (overrides -port)")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Journal backend: sqlite, badger or memory")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "Journal file (sqlite) or directory (badger)")
	fs.StringVar(&cfg.EngineVersion, "engine-version", cfg.EngineVersion, "Engine version stamped into journals")
	fs.BoolVar(&cfg.DebugEnabled, "debug", cfg.DebugEnabled, "Persist handler debug messages")
	fs.BoolVar(&cfg.DebugConsole, "debug-console", cfg.DebugConsole, "Mirror handler debug messages to stderr")
	fs.IntVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "Events between snapshots, 0 disables")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Locale for failure messages printed by send")
	fs.StringVar(&cfg.InstanceType, "type", "", "Instance type (inspect, send)")
	fs.StringVar(&cfg.InstanceID, "id", "", "Instance id (inspect, send, verify)")
	fs.StringVar(&cfg.CommandType, "cmd", "", "Command type (send)")
	fs.StringVar(&cfg.Payload, "payload", "", "Command payload JSON (send)")
	fs.StringVar(&cfg.ActorID, "actor", "operator", "Actor id recorded on sent commands")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and the flags each subcommand needs.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Command {
	case CommandInspect:
		if c.InstanceType == "" || c.InstanceID == "" {
			return errors.New("inspect requires -type and -id")
		}
	case CommandSend:
		if c.InstanceType == "" || c.InstanceID == "" || c.CommandType == "" {
			return errors.New("send requires -type, -id and -cmd")
		}
	case CommandVerify:
		if c.InstanceID == "" {
			return errors.New("verify requires -id")
		}
	}
	return nil
}

// ListenAddr returns the serve address.
func (c Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// ProbeAddr returns the address probed by the probe subcommand.
func (c Config) ProbeAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

// Run executes the configured subcommand. Operator output goes to stdout.
func Run(ctx context.Context, cfg Config) error {
	return RunTo(ctx, cfg, os.Stdout)
}

// RunTo is Run with an explicit output writer.
func RunTo(ctx context.Context, cfg Config, out io.Writer) error {
	switch cfg.Command {
	case CommandServe, "":
		return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceInstance, func(ctx context.Context) error {
			return serve(ctx, cfg)
		})
	case CommandInspect:
		return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceInspect, func(ctx context.Context) error {
			return inspect(ctx, cfg, out)
		})
	case CommandSend:
		return send(ctx, cfg, out)
	case CommandVerify:
		return verify(ctx, cfg, out)
	case CommandProbe:
		return probe(ctx, cfg, out)
	case CommandCatalog:
		return catalog(out)
	default:
		return fmt.Errorf("unknown subcommand %q", cfg.Command)
	}
}
