// Package config содержит логику чтения конфигурации сервиса агентского баланса.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress      = "localhost:8080"
	defaultDBTimeout       = 5 * time.Second
	defaultRetryAttempts   = 3
	defaultCORSOrigins     = "*"
	defaultLogLevel        = "info"
	defaultAdminAgencyID   = "admin"
	defaultAdminAgencyName = "Head Office"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress          string
	DatabaseURI         string
	JWTSecret           string
	DBTimeout           time.Duration
	LedgerRetryAttempts int
	CORSOrigins         string
	LogLevel            string
	AdminAgencyID       string
	AdminAgencyName     string
	// SubAgencies перечисляет субагентства для создания при запуске в виде "id=Название,id2=Название 2".
	SubAgencies         string
}

// SubAgency описывает субагентство, создаваемое при запуске.
type SubAgency struct {
	ID   string
	Name string
}

// envConfig хранит значения из окружения; nil означает, что переменная не задана.
type envConfig struct {
	RunAddress          *string        `env:"RUN_ADDRESS"`
	DatabaseURI         *string        `env:"DATABASE_URI"`
	JWTSecret           *string        `env:"JWT_SECRET"`
	DBTimeout           *time.Duration `env:"DB_TIMEOUT"`
	LedgerRetryAttempts *int           `env:"LEDGER_RETRY_ATTEMPTS"`
	CORSOrigins         *string        `env:"CORS_ORIGINS"`
	LogLevel            *string        `env:"LOG_LEVEL"`
	AdminAgencyID       *string        `env:"ADMIN_AGENCY_ID"`
	AdminAgencyName     *string        `env:"ADMIN_AGENCY_NAME"`
	SubAgencies         *string        `env:"SUB_AGENCIES"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI; empty runs on the in-memory store")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for bearer token verification")
	flag.DurationVar(&cfg.DBTimeout, "t", defaultDBTimeout, "timeout for a single database call")
	flag.IntVar(&cfg.LedgerRetryAttempts, "retries", defaultRetryAttempts, "ledger retries after a concurrent modification")
	flag.StringVar(&cfg.CORSOrigins, "cors", defaultCORSOrigins, "comma-separated list of allowed CORS origins")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")
	flag.StringVar(&cfg.AdminAgencyID, "admin-id", defaultAdminAgencyID, "id of the admin agency created on startup")
	flag.StringVar(&cfg.AdminAgencyName, "admin-name", defaultAdminAgencyName, "name of the admin agency created on startup")

	flag.StringVar(&cfg.SubAgencies, "agencies", "", "sub-agencies created on startup, as id=name pairs separated by commas")

	flag.Parse()

	override(&cfg.RunAddress, e.RunAddress)
	override(&cfg.DatabaseURI, e.DatabaseURI)
	override(&cfg.JWTSecret, e.JWTSecret)
	override(&cfg.DBTimeout, e.DBTimeout)
	override(&cfg.LedgerRetryAttempts, e.LedgerRetryAttempts)
	override(&cfg.CORSOrigins, e.CORSOrigins)
	override(&cfg.LogLevel, e.LogLevel)
	override(&cfg.AdminAgencyID, e.AdminAgencyID)
	override(&cfg.AdminAgencyName, e.AdminAgencyName)
	override(&cfg.SubAgencies, e.SubAgencies)

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = defaultDBTimeout
	}
	if cfg.LedgerRetryAttempts < 0 {
		return nil, fmt.Errorf("ledger retry attempts must not be negative, got %d", cfg.LedgerRetryAttempts)
	}
	if strings.TrimSpace(cfg.AdminAgencyID) == "" {
		return nil, fmt.Errorf("admin agency id must not be empty")
	}
	if _, err := cfg.SeedAgencies(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func override[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// AllowedOrigins возвращает список разрешённых CORS-источников.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{defaultCORSOrigins}
	}
	return origins
}

// SeedAgencies разбирает список субагентств. Пустое название заменяется идентификатором.
func (c *Config) SeedAgencies() ([]SubAgency, error) {
	var res []SubAgency
	seen := make(map[string]struct{})

	for _, item := range strings.Split(c.SubAgencies, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		id, name, _ := strings.Cut(item, "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if id == "" {
			return nil, fmt.Errorf("sub-agency %q: empty id", item)
		}
		if id == c.AdminAgencyID {
			return nil, fmt.Errorf("sub-agency %q: id is taken by the admin agency", id)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("sub-agency %q: duplicate id", id)
		}
		seen[id] = struct{}{}

		if name == "" {
			name = id
		}
		res = append(res, SubAgency{ID: id, Name: name})
	}

	return res, nil
}
