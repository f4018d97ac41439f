// Package config defines this service's JSON/YAML configuration schema,
// following the teacher's cmd/config.go idiom: one root Config struct that
// fills in no defaults itself, ConfigDuration/ConfigSecret helper types for
// ergonomic JSON+YAML unmarshalling.
package config

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object for every pkd-* binary. Reading
// a file fills in no defaults; a field left at its zero value is passed on
// as zero, and some consuming packages substitute their own default for it
// (noted on the fields below).
type Config struct {
	Upload     UploadConfig
	Parsing    ParsingConfig
	Validation ValidationConfig
	LDAP       LDAPConfig
	PA         PAConfig
	DB         DBConfig
	HTTP       HTTPConfig
	Admin      AdminConfig
	Syslog     SyslogConfig
	Tracing    TracingConfig
	Progress   ProgressConfig
}

// UploadConfig controls the Upload bounded context.
type UploadConfig struct {
	DebugAddr    string
	MaxBytes     int64 // not read: upload.Service enforces its fixed MaxUploadBytes (100 MiB)
	S3Bucket     string
	S3Region     string
	S3Prefix     string         // key prefix to poll, e.g. "masterlists/"
	S3PollPeriod ConfigDuration // empty/zero disables the poller
}

// ParsingConfig controls the LDIF/Master-List parsers.
type ParsingConfig struct {
	ProgressEveryN       int // default 10 per spec.md §4.2
	TrustAnchorBundle    string
	EnableLintPass       bool
}

// ValidationConfig controls batch size and backpressure handling.
type ValidationConfig struct {
	BatchSize           int // default 100 per spec.md §4.3.1
	SpillTimeout         ConfigDuration
	SpillQueueDir        string
	WorkerPoolSize       int
	EventQueueDepth      int
}

// LDAPConfig describes how to reach the directory server.
type LDAPConfig struct {
	URL             ConfigSecret
	BindDN          ConfigSecret
	BindPassword    ConfigSecret
	BaseDN          string
	RootRewriteFrom string // e.g. "dc=icao,dc=int", rewritten to BaseDN per spec.md §6.3
	MinPoolSize     int    // [3..20] per spec.md §4.4
	MaxPoolSize     int
	ConnMaxAge      ConfigDuration // 15 minutes per spec.md §4.4
	ConnectTimeout  ConfigDuration // 30s
	ReadTimeout     ConfigDuration // 60s
	KnownParentCacheSize int
}

// PAConfig controls the Passive Authentication verifier.
type PAConfig struct {
	ListenAddress string
}

// DBConfig describes the relational store connection.
type DBConfig struct {
	DBConnect ConfigSecret
	SQLDebug  bool
	MaxOpenConns int
}

// HTTPConfig controls the thin external HTTP surface (§6.2).
type HTTPConfig struct {
	ListenAddress       string
	ShutdownStopTimeout ConfigDuration
}

// AdminConfig controls the internal gRPC admin surface (supplemented
// feature, SPEC_FULL.md §9) and its accompanying Prometheus scrape port.
type AdminConfig struct {
	ListenAddress        string // AdminService gRPC
	MetricsListenAddress string // Prometheus /metrics
}

// SyslogConfig defines the config for syslogging, same shape as the
// teacher's cmd.SyslogConfig.
type SyslogConfig struct {
	Network     string
	Server      string
	Tag         string
	StdoutLevel *int
	SyslogLevel *int
}

// TracingConfig configures the optional OpenTelemetry OTLP exporter.
type TracingConfig struct {
	Endpoint string // empty disables tracing (no-op tracer)
}

// ProgressConfig controls the progress pub/sub service.
type ProgressConfig struct {
	RedisAddr string // empty: single-process in-memory only
}

// ConfigDuration is time.Duration with JSON/YAML string (de)serialization,
// ported from the teacher's cmd.ConfigDuration.
type ConfigDuration struct {
	time.Duration
}

var ErrDurationMustBeString = errors.New("cannot unmarshal something other than a string into a ConfigDuration")

func (d *ConfigDuration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return ErrDurationMustBeString
		}
		return err
	}
	dd, err := time.ParseDuration(s)
	d.Duration = dd
	return err
}

func (d ConfigDuration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Duration.String() + `"`), nil
}

func (d *ConfigDuration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ConfigSecret is a string-valued config field. If it starts with
// "secret:", its value is read from the file named after the prefix, with
// trailing newlines stripped — ported from the teacher's cmd.ConfigSecret.
type ConfigSecret string

var errSecretMustBeString = errors.New("cannot unmarshal something other than a string into a ConfigSecret")

const secretPrefix = "secret:"

func (d *ConfigSecret) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return errSecretMustBeString
		}
		return err
	}
	return d.resolve(s)
}

func (d *ConfigSecret) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.resolve(s)
}

func (d *ConfigSecret) resolve(s string) error {
	if !strings.HasPrefix(s, secretPrefix) {
		*d = ConfigSecret(s)
		return nil
	}
	contents, err := ioutil.ReadFile(s[len(secretPrefix):])
	if err != nil {
		return err
	}
	*d = ConfigSecret(strings.TrimRight(string(contents), "\n"))
	return nil
}

// ReadJSONFile unmarshals a JSON config file into out, matching the
// teacher's cmd.ReadConfigFile.
func ReadJSONFile(filename string, out interface{}) error {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ReadYAMLOverlay unmarshals a YAML config file on top of an
// already-populated Config, for local/dev overrides.
func ReadYAMLOverlay(filename string, out *Config) error {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
