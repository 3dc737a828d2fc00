package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"codeberg.org/mutker/healthsynth/internal/catalog"
	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/store"
	"codeberg.org/mutker/healthsynth/internal/timerange"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel   = "info"
	DefaultEnvPrefix  = "HEALTHSYNTH"
	DefaultConfigName = "healthsynth"
	DefaultBackend    = BackendMemory
	DefaultAddr       = "127.0.0.1:8790"

	dateLayout = "2006-01-02"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Seed      uint64          `mapstructure:"seed"`
	Store     StoreConfig     `mapstructure:"store"`
	Window    WindowConfig    `mapstructure:"window"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
	Select    []string        `mapstructure:"select"`

	// Metrics holds raw [[metrics]] tables; see Catalog.
	Metrics []map[string]any `mapstructure:"metrics"`

	// Command is the first positional argument, "generate" when absent.
	Command string `mapstructure:"-"`
	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type StoreConfig struct {
	Backend Backend  `mapstructure:"backend"`
	Path    string   `mapstructure:"path"`
	Grant   []string `mapstructure:"grant"`
}

type WindowConfig struct {
	Days     int    `mapstructure:"days"`
	Location string `mapstructure:"location"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

type JobsConfig struct {
	MaxInFlight int           `mapstructure:"max_in_flight"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type TelemetryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("seed", 0)
	v.SetDefault("store.backend", string(DefaultBackend))
	v.SetDefault("store.path", "")
	v.SetDefault("store.grant", []string{})
	v.SetDefault("window.days", timerange.DefaultDays)
	v.SetDefault("window.location", "")
	v.SetDefault("window.from", "")
	v.SetDefault("window.to", "")
	v.SetDefault("jobs.max_in_flight", 0)
	v.SetDefault("jobs.timeout", time.Duration(0))
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.namespace", "healthsynth")
	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("select", []string{})
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(DefaultConfigName, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "Path to config file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("store", string(DefaultBackend), "Store backend (memory, sqlite, badger)")
	fs.String("store-path", "", "Database file (sqlite) or directory (badger)")
	fs.StringSlice("grant", nil, "Sample types the store authorizes (default: all)")
	fs.Int("days", timerange.DefaultDays, "Length of the trailing window in days")
	fs.String("location", "", "Time zone whose midnights delimit days (default: local)")
	fs.String("from", "", "First day of an explicit window (YYYY-MM-DD)")
	fs.String("to", "", "Last day of an explicit window (YYYY-MM-DD)")
	fs.Int("max-in-flight", 0, "Maximum concurrent store jobs per phase (0: unlimited)")
	fs.Duration("timeout", 0, "Timeout for each store job (0: none)")
	fs.Uint64("seed", 0, "Seed for generated values (0: random)")
	fs.Bool("telemetry", true, "Record Prometheus metrics")
	fs.String("addr", DefaultAddr, "Listen address for serve")
	fs.StringSlice("select", nil, "Metrics to generate, by name (default: catalog selection)")

	return fs
}

var flagKeys = map[string]string{
	"log-level":     "log_level",
	"store":         "store.backend",
	"store-path":    "store.path",
	"grant":         "store.grant",
	"days":          "window.days",
	"location":      "window.location",
	"from":          "window.from",
	"to":            "window.to",
	"max-in-flight": "jobs.max_in_flight",
	"timeout":       "jobs.timeout",
	"seed":          "seed",
	"telemetry":     "telemetry.enabled",
	"addr":          "server.addr",
	"select":        "select",
}

// Load reads configuration from defaults, the config file, environment
// variables and command line flags, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(o)
	}
	args := o.args
	if !o.argsSet && len(os.Args) > 1 {
		args = os.Args[1:]
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		for _, dir := range searchPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{File: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	cfg.Command = CommandGenerate
	if rest := fs.Args(); len(rest) > 0 {
		cfg.Command = rest[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func searchPaths() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, DefaultConfigName))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", DefaultConfigName))
	}
	return append(dirs, filepath.Join("/etc", DefaultConfigName))
}

// Usage renders the flag defaults for help output.
func Usage() string {
	return newFlagSet().FlagUsages()
}

// Validate checks every field that can be checked without opening the store.
func (c *Config) Validate() error {
	errFactory := errors.New()
	invalid := func(field string, value any) error {
		return errFactory.WithData(ErrInvalidValue, fmt.Sprintf("%s=%v", field, value))
	}

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	switch c.Command {
	case CommandGenerate, CommandDelete, CommandServe:
	default:
		return errFactory.WithData(ErrUnknownCommand, c.Command)
	}

	if !c.Store.Backend.IsValid() {
		return invalid("store.backend", c.Store.Backend)
	}
	if c.Store.Backend != BackendMemory && c.Store.Path == "" {
		return invalid("store.path", `""`)
	}
	for _, g := range c.Store.Grant {
		if !store.Supports(store.SampleType(g)) {
			return invalid("store.grant", g)
		}
	}

	if c.Window.Days <= 0 {
		return invalid("window.days", c.Window.Days)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := c.Range(); err != nil {
		return err
	}

	if c.Jobs.MaxInFlight < 0 {
		return invalid("jobs.max_in_flight", c.Jobs.MaxInFlight)
	}
	if c.Jobs.Timeout < 0 {
		return invalid("jobs.timeout", c.Jobs.Timeout)
	}
	if c.Command == CommandServe && c.Server.Addr == "" {
		return invalid("server.addr", `""`)
	}

	return nil
}

// Location returns the time zone days are computed in.
func (c *Config) Location() (*time.Location, error) {
	if c.Window.Location == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Window.Location)
	if err != nil {
		return nil, errors.New().Wrap(ErrInvalidValue, err)
	}
	return loc, nil
}

// Range returns the explicit window days, or zero times when none is set.
// Setting only one end is an error.
func (c *Config) Range() (from, to time.Time, err error) {
	if c.Window.From == "" && c.Window.To == "" {
		return time.Time{}, time.Time{}, nil
	}

	errFactory := errors.New()
	if c.Window.From == "" || c.Window.To == "" {
		return from, to, errFactory.WithData(ErrInvalidValue, "window.from and window.to must be set together")
	}

	loc, err := c.Location()
	if err != nil {
		return from, to, err
	}
	if from, err = time.ParseInLocation(dateLayout, c.Window.From, loc); err != nil {
		return from, to, errFactory.Wrap(ErrInvalidValue, err)
	}
	if to, err = time.ParseInLocation(dateLayout, c.Window.To, loc); err != nil {
		return from, to, errFactory.Wrap(ErrInvalidValue, err)
	}
	if to.Before(from) {
		return from, to, errFactory.WithData(ErrInvalidValue, "window.to is before window.from")
	}
	return from, to, nil
}

// Grants returns the authorization policy for the bundled store backends.
func (c *Config) Grants() store.Grants {
	var g store.Grants
	for _, t := range c.Store.Grant {
		g.Allow = append(g.Allow, store.SampleType(t))
	}
	return g
}

// Catalog builds the metric catalog: the defaults, patched or extended by
// [[metrics]] tables, then narrowed by select when it is non-empty.
// A table whose name matches a default metric only changes the keys it
// sets.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	errFactory := errors.New()
	metrics := catalog.Default()

	for _, raw := range c.Metrics {
		name, _ := raw["name"].(string)
		i := slices.IndexFunc(metrics, func(m catalog.Metric) bool { return m.Name == name })

		var m catalog.Metric
		if i >= 0 {
			m = metrics[i]
		}
		if err := decodeMetric(raw, &m); err != nil {
			return nil, errFactory.Wrap(ErrInvalidMetrics, err)
		}

		if i >= 0 {
			metrics[i] = m
		} else {
			metrics = append(metrics, m)
		}
	}

	cat, err := catalog.New(metrics)
	if err != nil {
		return nil, err
	}

	if len(c.Select) > 0 {
		for _, name := range c.Select {
			if _, ok := cat.Get(name); !ok {
				return nil, errFactory.WithData(catalog.ErrUnknownMetric, name)
			}
		}
		for _, m := range cat.All() {
			if err := cat.SetSelected(m.Name, slices.Contains(c.Select, m.Name)); err != nil {
				return nil, err
			}
		}
	}

	return cat, nil
}

func decodeMetric(raw map[string]any, m *catalog.Metric) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           m,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
