package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"ENV"`
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	AdminKey    string `mapstructure:"ADMIN_KEY"`
	CORSAllowed string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	DistributionInterval    time.Duration `mapstructure:"DISTRIBUTION_INTERVAL"`
	InactivityTimeout       time.Duration `mapstructure:"INACTIVITY_TIMEOUT"`
	InactivitySweepInterval time.Duration `mapstructure:"INACTIVITY_SWEEP_INTERVAL"`
	BotStallTimeout         time.Duration `mapstructure:"BOT_STALL_TIMEOUT"`
	BotSweepInterval        time.Duration `mapstructure:"BOT_SWEEP_INTERVAL"`

	// First-advisor-of-day window. Hours are 0-23 in the business timezone.
	BusinessHoursStart int    `mapstructure:"BUSINESS_HOURS_START"`
	BusinessHoursEnd   int    `mapstructure:"BUSINESS_HOURS_END"`
	BusinessTZ         string `mapstructure:"BUSINESS_TZ"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("AMQP_EXCHANGE", "conversia.events")
	v.SetDefault("DISTRIBUTION_INTERVAL", "30s")
	v.SetDefault("INACTIVITY_TIMEOUT", "45m")
	v.SetDefault("INACTIVITY_SWEEP_INTERVAL", "5m")
	v.SetDefault("BOT_STALL_TIMEOUT", "10m")
	v.SetDefault("BOT_SWEEP_INTERVAL", "1m")
	v.SetDefault("BUSINESS_HOURS_START", 9)
	v.SetDefault("BUSINESS_HOURS_END", 18)
	v.SetDefault("BUSINESS_TZ", "America/Mexico_City")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
