package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Database  DatabaseConfig
	Push      PushConfig
	Email     EmailConfig
	Bridge    BridgeConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type PushConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"maxRetries"`
}

type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	From     string `mapstructure:"from"`
	Password string `mapstructure:"password"`
}

type BridgeConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}
