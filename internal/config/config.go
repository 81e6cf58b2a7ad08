package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379"   validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"chat_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"chat_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"chat_db"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	JWTSecret string `env:"JWT_SECRET,notEmpty" validate:"min=16"`

	// 1:1 chat, raise only for group rooms
	MaxRoomSize int `env:"MAX_ROOM_SIZE" envDefault:"2" validate:"min=1"`

	WsReadLimit      int64         `env:"WS_READ_LIMIT"      envDefault:"65536" validate:"min=512"`
	WsSendBuffer     int           `env:"WS_SEND_BUFFER"     envDefault:"32"    validate:"min=1"`
	WsPingPeriod     time.Duration `env:"WS_PING_PERIOD"     envDefault:"15s"`
	WsWriteWait      time.Duration `env:"WS_WRITE_WAIT"      envDefault:"10s"`
	WsAllowedOrigins []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
