package app

import (
	"strings"
	"time"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/utils"
)

type Config struct {
	JWTSecretKey   string
	AccessTokenTTL time.Duration
	DraftTTL       time.Duration
	Port           string
	MetricsAddr    string
	AllowOrigins   []string
	Environment    string
	Version        string
}

func LoadConfig(log *logger.Logger) Config {
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTLSeconds := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	draftTTLHours := utils.GetEnvAsInt("DRAFT_TTL_HOURS", 24, log)
	port := utils.GetEnv("PORT", "8080", log)
	metricsAddr := utils.GetEnv("METRICS_ADDR", "", log)
	environment := utils.GetEnv("APP_ENV", "development", log)
	version := utils.GetEnv("APP_VERSION", "dev", log)

	var origins []string
	if raw := utils.GetEnv("CORS_ALLOW_ORIGINS", "", log); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return Config{
		JWTSecretKey:   jwtSecretKey,
		AccessTokenTTL: time.Duration(accessTokenTTLSeconds) * time.Second,
		DraftTTL:       time.Duration(draftTTLHours) * time.Hour,
		Port:           port,
		MetricsAddr:    metricsAddr,
		AllowOrigins:   origins,
		Environment:    environment,
		Version:        version,
	}
}
