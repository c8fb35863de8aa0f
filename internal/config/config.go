// Package config loads the YAML configuration shared by the CLI commands.
package config

import (
	"encoding/json"
	"os"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/rxtech-lab/argo-datapage/internal/backtest"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Service   ServiceConfig   `yaml:"service" json:"service" jsonschema:"title=Service,description=Remote data service the page managers load from"`
	Server    ServerConfig    `yaml:"server" json:"server" jsonschema:"title=Server,description=Reference data service started by the serve command"`
	Managers  ManagersConfig  `yaml:"managers" json:"managers" jsonschema:"title=Page Managers,description=Per data kind page manager tuning"`
	Transport TransportConfig `yaml:"transport" json:"transport" jsonschema:"title=Transport,description=Push and pull transfer tuning"`
	Computed  ComputedConfig  `yaml:"computed" json:"computed" jsonschema:"title=Computed Pages"`
	Engine    EngineConfig    `yaml:"engine" json:"engine" jsonschema:"title=Engine,description=Reference backtest engine"`
	Results   ResultsConfig   `yaml:"results" json:"results" jsonschema:"title=Results,description=Backtest result store"`
	Sources   SourcesConfig   `yaml:"sources" json:"sources" jsonschema:"title=Sources,description=Upstream sources of the reference data service"`
}

type ServiceConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url" jsonschema:"title=Base URL,description=HTTP address of the data service,format=uri" validate:"required,url"`
	StreamURL string        `yaml:"stream_url" json:"stream_url,omitempty" jsonschema:"title=Stream URL,description=WebSocket address. Derived from the base URL when empty" validate:"omitempty,url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"title=Timeout,description=Per request timeout" validate:"gte=0"`
	// Protocol is the wire protocol version announced to the service.
	Protocol string `yaml:"protocol" json:"protocol,omitempty" jsonschema:"title=Protocol Version" validate:"omitempty,semver"`
}

type ServerConfig struct {
	Address   string        `yaml:"address" json:"address" jsonschema:"title=Listen Address" validate:"required"`
	ChunkSize int           `yaml:"chunk_size" json:"chunk_size" jsonschema:"title=Chunk Size,description=Records per stream chunk,minimum=1" validate:"gte=1"`
	PageTTL   time.Duration `yaml:"page_ttl" json:"page_ttl" jsonschema:"title=Page TTL,description=How long an unaccessed page is kept" validate:"gt=0"`
}

// ManagerConfig tunes one page manager. Zero values keep the kind's default.
type ManagerConfig struct {
	PoolSize    int           `yaml:"pool_size" json:"pool_size,omitempty" jsonschema:"title=Pool Size,description=Concurrent page loads,minimum=0" validate:"gte=0"`
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period,omitempty" jsonschema:"title=Grace Period,description=How long an unreferenced page is kept" validate:"gte=0"`
	RecordSize  int64         `yaml:"record_size" json:"record_size,omitempty" jsonschema:"title=Record Size,description=Estimated bytes per record,minimum=0" validate:"gte=0"`
}

type ManagersConfig struct {
	Candles      ManagerConfig `yaml:"candles" json:"candles"`
	Trades       ManagerConfig `yaml:"trades" json:"trades"`
	Funding      ManagerConfig `yaml:"funding" json:"funding"`
	OpenInterest ManagerConfig `yaml:"open_interest" json:"open_interest"`
	Premium      ManagerConfig `yaml:"premium" json:"premium"`
	// Disabled kinds get no manager. Strategies that require them fail.
	Disabled []types.DataKind `yaml:"disabled" json:"disabled,omitempty" jsonschema:"title=Disabled Kinds,enum=trades,enum=funding,enum=open_interest,enum=premium"`
}

// For returns the settings of kind.
func (m ManagersConfig) For(kind types.DataKind) ManagerConfig {
	switch kind {
	case types.DataKindTrades:
		return m.Trades
	case types.DataKindFunding:
		return m.Funding
	case types.DataKindOpenInterest:
		return m.OpenInterest
	case types.DataKindPremium:
		return m.Premium
	default:
		return m.Candles
	}
}

// Enabled reports whether kind gets a manager. Candles are always enabled.
func (m ManagersConfig) Enabled(kind types.DataKind) bool {
	if kind == types.DataKindCandles {
		return true
	}

	for _, k := range m.Disabled {
		if k == kind {
			return false
		}
	}

	return true
}

type TransportConfig struct {
	PollInterval time.Duration                    `yaml:"poll_interval" json:"poll_interval" jsonschema:"title=Poll Interval" validate:"gt=0"`
	PollTimeout  time.Duration                    `yaml:"poll_timeout" json:"poll_timeout" jsonschema:"title=Poll Timeout" validate:"gt=0"`
	PushTimeouts map[types.DataKind]time.Duration `yaml:"push_timeouts" json:"push_timeouts,omitempty" jsonschema:"title=Push Timeouts,description=Per data kind push transfer timeout"`
	// Push disables the stream transport when false.
	Push bool `yaml:"push" json:"push" jsonschema:"title=Push,description=Use the WebSocket stream before polling"`
}

type ComputedConfig struct {
	MaxDegradedAge time.Duration `yaml:"max_degraded_age" json:"max_degraded_age" jsonschema:"title=Max Degraded Age,description=How long a result computed without trades is served" validate:"gt=0"`
}

type EngineConfig struct {
	Broker backtest.Broker `yaml:"broker" json:"broker" jsonschema:"title=Broker,description=The broker to use for commission calculations" validate:"required,oneof=binance_futures zero_commission"`
}

type ResultsConfig struct {
	// Path of the DuckDB file. Empty keeps results in memory.
	Path string `yaml:"path" json:"path" jsonschema:"title=Path,description=DuckDB database file"`
}

type SourcesConfig struct {
	BinanceBaseURL string `yaml:"binance_base_url" json:"binance_base_url,omitempty" jsonschema:"title=Binance Futures URL" validate:"omitempty,url"`
	PolygonAPIKey  string `yaml:"polygon_api_key" json:"polygon_api_key,omitempty" jsonschema:"title=Polygon API Key,description=Candles come from Polygon when set"`
	ParquetPattern string `yaml:"parquet_pattern" json:"parquet_pattern,omitempty" jsonschema:"title=Parquet Pattern,description=Glob of local candle files. Takes precedence over remote candle sources"`
	// Synthetic serves generated data for every kind and ignores the other
	// sources.
	Synthetic bool `yaml:"synthetic" json:"synthetic" jsonschema:"title=Synthetic,description=Serve generated data"`
}

// Default returns the configuration used when a file leaves a field unset.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			BaseURL:   "http://localhost:8090",
			StreamURL: "",
			Timeout:   30 * time.Second,
			Protocol:  "",
		},
		Server: ServerConfig{
			Address:   ":8090",
			ChunkSize: 50000,
			PageTTL:   10 * time.Minute,
		},
		Managers: ManagersConfig{},
		Transport: TransportConfig{
			PollInterval: 100 * time.Millisecond,
			PollTimeout:  5 * time.Minute,
			PushTimeouts: nil,
			Push:         true,
		},
		Computed: ComputedConfig{MaxDegradedAge: 5 * time.Minute},
		Engine:   EngineConfig{Broker: backtest.BrokerZero},
		Results:  ResultsConfig{Path: ""},
		Sources:  SourcesConfig{},
	}
}

// Load reads and validates the file at path. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		config := Default()

		return &config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "failed to read config file %s", path)
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidParameter, "failed to parse config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid config", err)
	}

	for kind, d := range c.Transport.PushTimeouts {
		if !kind.Valid() {
			return errors.Newf(errors.ErrCodeInvalidDataKind, "unknown data kind %q in push_timeouts", kind)
		}

		if d <= 0 {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "push timeout for %s must be positive", kind)
		}
	}

	for _, kind := range c.Managers.Disabled {
		if !kind.Valid() || kind == types.DataKindCandles {
			return errors.Newf(errors.ErrCodeInvalidDataKind, "cannot disable data kind %q", kind)
		}
	}

	return nil
}

// GenerateSchema generates a JSON schema for Config.
func GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t {
			case reflect.TypeOf(time.Duration(0)):
				return &jsonschema.Schema{
					Type:        "string",
					Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
					Description: "Go duration, e.g. 30s or 5m",
				}
			case reflect.TypeOf(backtest.Broker("")):
				return &jsonschema.Schema{
					Type: "string",
					Enum: backtest.AllBrokers,
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(&Config{})
	schema.Title = "datapage-config"
	schema.Description = "Configuration schema for datapage"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates an indented JSON schema string for Config.
func GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidParameter, "failed to marshal schema", err)
	}

	return string(schemaBytes), nil
}
