package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Quest    QuestConfig    `mapstructure:"quest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port     int      `mapstructure:"port"`
	Debug    bool     `mapstructure:"debug"`
	AdminKey string   `mapstructure:"admin_key"`
	AdminIPs []string `mapstructure:"admin_ips"` // empty allows any IP holding the admin key
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
	SlowQuery    time.Duration `mapstructure:"slow_query"` // statements slower than this are logged at warn
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	RedisPrefix     string        `mapstructure:"redis_prefix"` // namespaces keys and channels
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
	PlayerTTL       time.Duration `mapstructure:"player_ttl"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type QuestConfig struct {
	DocumentPath      string   `mapstructure:"document_path"`
	CampaignName      string   `mapstructure:"campaign_name"`
	RepairPolicy      string   `mapstructure:"repair_policy"` // reset | fail
	StrictPermissions bool     `mapstructure:"strict_permissions"`
	DirectorAccounts  []string `mapstructure:"director_accounts"` // usernames promoted on login
}

type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// Load reads config from the given YAML file path. An empty path loads the
// defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	// QUESTD_SECURITY_JWT_SECRET overrides security.jwt_secret.
	v.SetEnvPrefix("QUESTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled && cfg.Metrics.RefreshInterval <= 0 {
		return nil, fmt.Errorf("config: metrics.refresh_interval must be positive, got %s", cfg.Metrics.RefreshInterval)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/quests.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("database.slow_query", "200ms")
	v.SetDefault("cache.redis_prefix", "questd:")
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("cache.player_ttl", "10m")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("quest.document_path", "quests")
	v.SetDefault("quest.campaign_name", "")
	v.SetDefault("quest.repair_policy", "reset")
	v.SetDefault("quest.strict_permissions", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.refresh_interval", "30s")
}
