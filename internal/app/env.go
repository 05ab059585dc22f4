package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerEnv is the process environment read by `pl serve`. Flags override
// these values.
type ServerEnv struct {
	Addr         string        `env:"PLAYLINE_ADDR"          envDefault:"127.0.0.1:8080"`
	BasePath     string        `env:"PLAYLINE_BASE_PATH"     envDefault:"/v0"`
	JWTSecret    string        `env:"PLAYLINE_JWT_SECRET"`
	DevLogin     bool          `env:"PLAYLINE_DEV_LOGIN"`
	TokenTTL     time.Duration `env:"PLAYLINE_TOKEN_TTL"     envDefault:"12h"`
	ArchiveSweep time.Duration `env:"PLAYLINE_ARCHIVE_SWEEP"`
	DisableSweep bool          `env:"PLAYLINE_DISABLE_SWEEP"`
	Workspace    string        `env:"PLAYLINE_WORKSPACE"     envDefault:"."`
	TenantID     string        `env:"PLAYLINE_TENANT"`
	AdminUserID  string        `env:"PLAYLINE_ADMIN"         envDefault:"local-admin"`
	WebhooksOff  bool          `env:"PLAYLINE_WEBHOOKS_OFF"`
}

// LoadServerEnv parses ServerEnv from the environment.
func LoadServerEnv() (ServerEnv, error) {
	var cfg ServerEnv
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
