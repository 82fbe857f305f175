package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/photon-dev/photon/internal/errors"
	"github.com/photon-dev/photon/internal/logging"
)

const (
	// ConfigFileName is the name of the JSON configuration file.
	ConfigFileName = "photon.json"

	// YAMLConfigFileName is the name of the YAML configuration file.
	YAMLConfigFileName = "photon.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PHOTON"

	// DefaultPort is the default development server port.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultOutput is the default build output directory.
	DefaultOutput = "dist"

	// DefaultHMRPath is the reserved live-reload websocket path.
	DefaultHMRPath = "/__vite_hmr"

	// DefaultRPCTimeout bounds every call over the worker RPC channel.
	DefaultRPCTimeout = time.Second

	// IndexEntry is the logical name of the main server entry.
	IndexEntry = "index"
)

// DefaultMiddleware matches the middleware files whose composition is captured at startup.
var DefaultMiddleware = []string{"+middleware.*"}

// Runtimes are the deployment targets an entry can declare.
var Runtimes = []string{"node", "nodeless", "deno", "cloudflare", "cloudflare-nodejs-compat", "vercel"}

// DevRuntimes are the JavaScript runtimes that can host the dev worker.
var DevRuntimes = []string{"node", "deno", "bun"}

// Servers are the Go HTTP stacks the dev listener can be mounted on.
var Servers = []string{"std", "chi", "gin"}

// Config represents the complete photon configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty" yaml:"name,omitempty" envconfig:"NAME"`

	// Server is shorthand for entries.index.id.
	Server string `json:"server,omitempty" yaml:"server,omitempty" envconfig:"SERVER"`

	// Entries maps logical entry names to server entries.
	Entries map[string]EntryConfig `json:"entries,omitempty" yaml:"entries,omitempty" ignored:"true"`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev,omitempty" yaml:"dev,omitempty" envconfig:"DEV"`

	// Build contains build configuration.
	Build BuildConfig `json:"build,omitempty" yaml:"build,omitempty" envconfig:"BUILD"`

	// Logging contains logging configuration.
	Logging logging.Config `json:"logging,omitempty" yaml:"logging,omitempty" envconfig:"LOGGING"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// EntryConfig declares one server entry.
type EntryConfig struct {
	// ID is the entry module path, relative to the project root.
	ID string `json:"id" yaml:"id"`

	// Runtime is the deployment target (node, deno, cloudflare, ...).
	Runtime string `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Port is the port to run the dev server on.
	Port int `json:"port,omitempty" yaml:"port,omitempty" envconfig:"PORT"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty" yaml:"host,omitempty" envconfig:"HOST"`

	// HMRPath is the live-reload websocket path.
	HMRPath string `json:"hmrPath,omitempty" yaml:"hmrPath,omitempty" envconfig:"HMRPATH"`

	// Server selects the HTTP stack of the dev listener (std, chi, gin).
	Server string `json:"server,omitempty" yaml:"server,omitempty" envconfig:"SERVER"`

	// Runtime selects the JavaScript runtime hosting the worker (node, deno, bun).
	Runtime string `json:"runtime,omitempty" yaml:"runtime,omitempty" envconfig:"RUNTIME"`

	// PreferRestart re-executes the whole CLI on entry changes instead of using the RPC worker.
	PreferRestart bool `json:"preferRestart,omitempty" yaml:"preferRestart,omitempty" envconfig:"PREFERRESTART"`

	// RPCTimeout bounds each worker RPC call.
	RPCTimeout Duration `json:"rpcTimeout,omitempty" yaml:"rpcTimeout,omitempty" envconfig:"RPCTIMEOUT"`

	// Middleware are file globs that force a restart when reached by a change.
	Middleware []string `json:"middleware,omitempty" yaml:"middleware,omitempty" envconfig:"MIDDLEWARE"`

	// Watch contains extra paths to watch for changes.
	Watch []string `json:"watch,omitempty" yaml:"watch,omitempty" envconfig:"WATCH"`

	// Ignore contains patterns to ignore during watch.
	Ignore []string `json:"ignore,omitempty" yaml:"ignore,omitempty" envconfig:"IGNORE"`

	// Proxy contains proxy rules for forwarding requests.
	Proxy map[string]string `json:"proxy,omitempty" yaml:"proxy,omitempty" ignored:"true"`

	// CORS enables permissive CORS on the dev listener (gin server only).
	CORS bool `json:"cors,omitempty" yaml:"cors,omitempty" envconfig:"CORS"`
}

// BuildConfig contains build settings.
type BuildConfig struct {
	// Output is the output directory for builds.
	Output string `json:"output,omitempty" yaml:"output,omitempty" envconfig:"OUTPUT"`

	// Publish is an optional publish target (file:///dir or s3://bucket/prefix).
	Publish string `json:"publish,omitempty" yaml:"publish,omitempty" envconfig:"PUBLISH"`
}

// Duration is a time.Duration that reads "1s" style strings from JSON, YAML and env.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler. Bare numbers are milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return err
		}
		d.Duration = time.Duration(ms) * time.Millisecond
		return nil
	}
	return d.Decode(s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.Decode(node.Value)
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	if value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Entries: map[string]EntryConfig{},
		Dev: DevConfig{
			Port:       DefaultPort,
			Host:       DefaultHost,
			HMRPath:    DefaultHMRPath,
			Server:     "std",
			Runtime:    "node",
			RPCTimeout: Duration{DefaultRPCTimeout},
			Middleware: append([]string(nil), DefaultMiddleware...),
		},
		Build: BuildConfig{
			Output: DefaultOutput,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads configuration from the specified directory.
// It looks for photon.json, then photon.yaml / photon.yml.
func Load(dir string) (*Config, error) {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName, "photon.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New("P110").
		WithDetail("No photon.json or photon.yaml found in " + dir).
		WithSuggestion("Create photon.json with at least {\"server\": \"./src/server.ts\"}")
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("P110").
				WithDetail("No config file at " + path)
		}
		return nil, errors.New("P111").Wrap(err)
	}

	cfg := New()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("P111").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
			WithSuggestion("Check that " + filepath.Base(path) + " is valid")
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.New("P112").
			WithDetail("Invalid PHOTON_* environment override: " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// Save writes the configuration as JSON to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration as JSON to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("P111").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("P111").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// SetDir points the config at a project directory without a file on disk.
func (c *Config) SetDir(dir string) {
	c.configPath = filepath.Join(dir, ConfigFileName)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Entries == nil {
		c.Entries = map[string]EntryConfig{}
	}
	if c.Server != "" {
		if _, ok := c.Entries[IndexEntry]; !ok {
			c.Entries[IndexEntry] = EntryConfig{ID: c.Server}
		}
	}
	for name, entry := range c.Entries {
		if entry.Runtime == "" {
			entry.Runtime = "node"
			c.Entries[name] = entry
		}
	}

	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultPort
	}
	if c.Dev.Host == "" {
		c.Dev.Host = DefaultHost
	}
	if c.Dev.HMRPath == "" {
		c.Dev.HMRPath = DefaultHMRPath
	}
	if !strings.HasPrefix(c.Dev.HMRPath, "/") {
		c.Dev.HMRPath = "/" + c.Dev.HMRPath
	}
	if c.Dev.Server == "" {
		c.Dev.Server = "std"
	}
	if c.Dev.Runtime == "" {
		c.Dev.Runtime = "node"
	}
	if c.Dev.RPCTimeout.Duration <= 0 {
		c.Dev.RPCTimeout = Duration{DefaultRPCTimeout}
	}
	if len(c.Dev.Middleware) == 0 {
		c.Dev.Middleware = append([]string(nil), DefaultMiddleware...)
	}

	if c.Build.Output == "" {
		c.Build.Output = DefaultOutput
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, ok := c.Entries[IndexEntry]; !ok {
		return errors.New("P100").
			WithSuggestion(`Add "server": "./src/server.ts" or entries.index to ` + ConfigFileName)
	}
	for _, name := range c.EntryNames() {
		entry := c.Entries[name]
		if entry.ID == "" {
			return errors.New("P101").
				WithDetail("entry " + strconv.Quote(name) + " has no id")
		}
		if !contains(Runtimes, entry.Runtime) {
			return errors.New("P112").
				WithDetail("entry " + strconv.Quote(name) + " has unknown runtime " + strconv.Quote(entry.Runtime)).
				WithSuggestion("Use one of: " + strings.Join(Runtimes, ", "))
		}
	}
	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return errors.New("P112").
			WithDetail("Port must be between 0 and 65535")
	}
	if !contains(DevRuntimes, c.Dev.Runtime) {
		return errors.New("P112").
			WithDetail("dev.runtime must be one of " + strings.Join(DevRuntimes, ", "))
	}
	if !contains(Servers, c.Dev.Server) {
		return errors.New("P180").
			WithDetail("dev.server " + strconv.Quote(c.Dev.Server) + " is not one of " + strings.Join(Servers, ", "))
	}
	return nil
}

// EntryNames returns the declared entry names in a stable order, index first.
func (c *Config) EntryNames() []string {
	names := make([]string, 0, len(c.Entries))
	for name := range c.Entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == IndexEntry || names[j] == IndexEntry {
			return names[i] == IndexEntry
		}
		return names[i] < names[j]
	})
	return names
}

// EntryPath returns the absolute path of the named entry's module.
func (c *Config) EntryPath(name string) string {
	entry, ok := c.Entries[name]
	if !ok {
		return ""
	}
	return c.resolve(entry.ID)
}

// DevAddress returns the address string for the dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// DevURL returns the full URL for the dev server.
func (c *Config) DevURL() string {
	return "http://" + c.DevAddress()
}

// OutputPath returns the absolute path to the build output directory.
func (c *Config) OutputPath() string {
	return c.resolve(c.Build.Output)
}

// WatchPaths returns the absolute extra watch paths.
func (c *Config) WatchPaths() []string {
	paths := make([]string, 0, len(c.Dev.Watch))
	for _, p := range c.Dev.Watch {
		paths = append(paths, c.resolve(p))
	}
	return paths
}

func (c *Config) resolve(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Dir(), path)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName, "photon.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing the config file, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("P110").
				WithDetail("No photon.json found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
