package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"

	FitterWorker = "worker"
	FitterFake   = "fake"

	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		IdleTimeout  time.Duration `yaml:"idleTimeout"`
		CORSOrigins  []string      `yaml:"corsOrigins"`
	} `yaml:"server"`

	Auth struct {
		APIToken   string `yaml:"apiToken"`
		UserHeader string `yaml:"userHeader"`
	} `yaml:"auth"`

	Storage struct {
		UploadDir string `yaml:"uploadDir"`
		RunsDir   string `yaml:"runsDir"`
	} `yaml:"storage"`

	Workers struct {
		MaxConcurrent int `yaml:"maxConcurrent"`
	} `yaml:"workers"`

	Fitter struct {
		Mode    string   `yaml:"mode"`
		Command string   `yaml:"command"`
		Args    []string `yaml:"args"`
	} `yaml:"fitter"`

	Database struct {
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool          `yaml:"enabled"`
		Endpoint   string        `yaml:"endpoint"`
		AccessKey  string        `yaml:"accessKey"`
		SecretKey  string        `yaml:"secretKey"`
		BucketName string        `yaml:"bucketName"`
		Region     string        `yaml:"region"`
		UseSSL     bool          `yaml:"useSSL"`
		PresignTTL time.Duration `yaml:"presignTTL"`
	} `yaml:"minio"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"ratelimit"`

	Tracing struct {
		Exporter string `yaml:"exporter"`
	} `yaml:"tracing"`

	Analyses struct {
		Disabled []string `yaml:"disabled"`
	} `yaml:"analyses"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Server.Port = 8000
	c.Server.ReadTimeout = 15 * time.Second
	// run-analysis blocks for the whole fit
	c.Server.WriteTimeout = 10 * time.Minute
	c.Server.IdleTimeout = 60 * time.Second
	c.Auth.UserHeader = "x-user-id"
	c.Storage.UploadDir = "/uploads"
	c.Storage.RunsDir = "/tmp/sans-pilot-runs"
	c.Workers.MaxConcurrent = runtime.NumCPU()
	c.Fitter.Mode = FitterWorker
	c.Fitter.Command = "python3"
	c.Fitter.Args = []string{"-m", "sans_fitter.worker"}
	c.Database.Driver = DriverMemory
	c.Database.SSLMode = "disable"
	c.Tracing.Exporter = TraceExporterNone
	return &c
}

// Load reads the YAML file at path over the defaults, then applies env
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("UPLOAD_DIR", &c.Storage.UploadDir)
	str("SANS_PILOT_RUNS_DIR", &c.Storage.RunsDir)
	str("API_TOKEN", &c.Auth.APIToken)
	if v, ok := lookup("SANS_PILOT_FITTER_COMMAND"); ok {
		// the value is a command line: binary first, then its arguments
		if fields := strings.Fields(v); len(fields) > 0 {
			c.Fitter.Command, c.Fitter.Args = fields[0], fields[1:]
		}
	}
	str("SANS_PILOT_FITTER_MODE", &c.Fitter.Mode)
	str("SANS_PILOT_DB_DRIVER", &c.Database.Driver)
	str("SANS_PILOT_TRACE_EXPORTER", &c.Tracing.Exporter)
	if err := num("PORT", &c.Server.Port); err != nil {
		return err
	}
	return num("SANS_PILOT_WORKERS", &c.Workers.MaxConcurrent)
}

// Validate rejects configurations main cannot wire.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.UploadDir) == "" {
		errs = append(errs, errors.New("storage.uploadDir is required"))
	}
	if strings.TrimSpace(c.Storage.RunsDir) == "" {
		errs = append(errs, errors.New("storage.runsDir is required"))
	}
	switch c.Database.Driver {
	case DriverMemory, DriverMySQL, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of memory, mysql, postgres", c.Database.Driver))
	}
	switch c.Fitter.Mode {
	case FitterFake:
	case FitterWorker:
		if strings.TrimSpace(c.Fitter.Command) == "" {
			errs = append(errs, errors.New("fitter.command is required in worker mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("fitter.mode %q is not one of worker, fake", c.Fitter.Mode))
	}
	switch c.Tracing.Exporter {
	case TraceExporterNone, TraceExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q is not one of none, stdout", c.Tracing.Exporter))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucketName are required when minio is enabled"))
	}
	return errors.Join(errs...)
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
