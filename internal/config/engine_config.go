package config

import "time"

// StoreConfig describes the durable context store's connection.
type StoreConfig struct {
	Driver          string        `yaml:"driver" json:"driver"` // "pgx" or "sqlite3"
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
}

// HTTPConfig describes the C7 facade's listen address and auth.
type HTTPConfig struct {
	Address        string        `yaml:"address" json:"address"`
	JWTSecret      string        `yaml:"jwtSecret" json:"jwtSecret"`
	RateLimitRPS   float64       `yaml:"rateLimitRPS" json:"rateLimitRPS"`
	RateLimitBurst int           `yaml:"rateLimitBurst" json:"rateLimitBurst"`
	ReadTimeout    time.Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout" json:"writeTimeout"`
}

// TracingConfig selects the OpenTelemetry exporter for span output.
type TracingConfig struct {
	Exporter    string `yaml:"exporter" json:"exporter"` // "stdout", "jaeger", "zipkin", "none"
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	ServiceName string `yaml:"serviceName" json:"serviceName"`
}

// NotifyConfig configures the NATS transition-change publisher.
type NotifyConfig struct {
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subjectPrefix" json:"subjectPrefix"`
	Enabled       bool   `yaml:"enabled" json:"enabled"`
}

// ExecutorConfig holds executor settings. TimeoutTick is loaded and
// defaulted but not read by the executor, whose timeout monitor ticks at a
// fixed 60s interval.
type ExecutorConfig struct {
	TimeoutTick time.Duration `yaml:"timeoutTick" json:"timeoutTick"`
}

// EngineConfig is the top-level process configuration: store DSN/driver,
// HTTP listen address, timeout-monitor tick, tracing exporter, and NATS
// URL, loadable via Load/LoadWithEnv the same way flow documents load,
// adapted from the teacher's pkg/config Manager pattern.
type EngineConfig struct {
	FlowPath string         `yaml:"flowPath" json:"flowPath"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing"`
	Notify   NotifyConfig   `yaml:"notify" json:"notify"`
	Executor ExecutorConfig `yaml:"executor" json:"executor"`
}

// Defaults returns an EngineConfig with conservative defaults, intended as
// the base a caller Loads a file on top of.
func Defaults() EngineConfig {
	return EngineConfig{
		Store: StoreConfig{
			Driver:          "sqlite3",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		HTTP: HTTPConfig{
			Address:        ":8080",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "statewheel-engine",
		},
		Notify: NotifyConfig{
			SubjectPrefix: "statewheel",
		},
		Executor: ExecutorConfig{
			TimeoutTick: 60 * time.Second,
		},
	}
}

// Validators returns the standard validator set applied to a loaded
// EngineConfig (spec.md §2 ambient config validation).
func Validators() []Validator {
	return []Validator{
		RequiredFields("FlowPath", "Store.Driver", "Store.DSN", "HTTP.Address"),
		OneOfValidator("Store.Driver", "pgx", "sqlite3"),
		OneOfValidator("Tracing.Exporter", "stdout", "jaeger", "zipkin", "none"),
		RangeValidator("HTTP.RateLimitRPS", 0, 100000),
	}
}
