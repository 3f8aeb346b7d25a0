package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Decision engine
	ModelPath      string        `mapstructure:"MODEL_PATH"`
	RuleTimeout    time.Duration `mapstructure:"RULE_TIMEOUT"`
	ModelTimeout   time.Duration `mapstructure:"MODEL_TIMEOUT"`
	MedTimeout     time.Duration `mapstructure:"MED_TIMEOUT"`
	AnalyzeTimeout time.Duration `mapstructure:"ANALYZE_TIMEOUT"`

	// Escalation
	TokenTTL       time.Duration `mapstructure:"TOKEN_TTL"`
	TokenSingleUse bool          `mapstructure:"TOKEN_SINGLE_USE"`
	SBARServiceURL string        `mapstructure:"SBAR_SERVICE_URL"`
	SBARTimeout    time.Duration `mapstructure:"SBAR_TIMEOUT"`
	PortalBaseURL  string        `mapstructure:"PORTAL_BASE_URL"`

	// Live events
	PingInterval time.Duration `mapstructure:"PING_INTERVAL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MODEL_PATH", "./model/risk_model.json")
	v.SetDefault("RULE_TIMEOUT", "50ms")
	v.SetDefault("MODEL_TIMEOUT", "2s")
	v.SetDefault("MED_TIMEOUT", "1s")
	v.SetDefault("ANALYZE_TIMEOUT", "5s")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("TOKEN_SINGLE_USE", false)
	v.SetDefault("SBAR_TIMEOUT", "5s")
	v.SetDefault("PORTAL_BASE_URL", "http://localhost:3000")
	v.SetDefault("PING_INTERVAL", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("MODEL_PATH")
	v.BindEnv("RULE_TIMEOUT")
	v.BindEnv("MODEL_TIMEOUT")
	v.BindEnv("MED_TIMEOUT")
	v.BindEnv("ANALYZE_TIMEOUT")
	v.BindEnv("TOKEN_TTL")
	v.BindEnv("TOKEN_SINGLE_USE")
	v.BindEnv("SBAR_SERVICE_URL")
	v.BindEnv("SBAR_TIMEOUT")
	v.BindEnv("PORTAL_BASE_URL")
	v.BindEnv("PING_INTERVAL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if !cfg.IsDev() && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required when ENV=production")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get PHW access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}
