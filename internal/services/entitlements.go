package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/utils"
)

// PlanLimits is plan-configuration data, injected from YAML rather than
// hard-coded: the warn/block thresholds of the predictive quota guard live
// here.
type PlanLimits struct {
	ID                     string `yaml:"id"`
	PlaybooksEnabled       bool   `yaml:"playbooks_enabled"`
	AIDailyLimit           int64  `yaml:"ai_daily_limit"`
	MonthlyTokenCap        int64  `yaml:"monthly_token_cap"`
	ApplyDailyWriteLimit   int64  `yaml:"apply_daily_write_limit"`
	WarnThresholdPercent   int    `yaml:"warn_threshold_percent"`
	HardEnforcementEnabled bool   `yaml:"hard_enforcement_enabled"`
}

type EntitlementsConfig struct {
	DefaultPlan string                `yaml:"default_plan"`
	Plans       map[string]PlanLimits `yaml:"plans"`
}

func defaultEntitlementsConfig() EntitlementsConfig {
	return EntitlementsConfig{
		DefaultPlan: "free",
		Plans: map[string]PlanLimits{
			"free": {
				ID:                     "free",
				PlaybooksEnabled:       false,
				AIDailyLimit:           0,
				MonthlyTokenCap:        0,
				WarnThresholdPercent:   80,
				HardEnforcementEnabled: true,
			},
			"growth": {
				ID:                     "growth",
				PlaybooksEnabled:       true,
				AIDailyLimit:           200,
				MonthlyTokenCap:        500000,
				ApplyDailyWriteLimit:   1000,
				WarnThresholdPercent:   80,
				HardEnforcementEnabled: true,
			},
			"scale": {
				ID:                     "scale",
				PlaybooksEnabled:       true,
				AIDailyLimit:           2000,
				MonthlyTokenCap:        5000000,
				ApplyDailyWriteLimit:   10000,
				WarnThresholdPercent:   90,
				HardEnforcementEnabled: false,
			},
		},
	}
}

// LoadEntitlementsConfig reads the plan/quota thresholds from YAML, falling
// back to compiled defaults when no file is configured.
func LoadEntitlementsConfig(log *logger.Logger) EntitlementsConfig {
	path := utils.GetEnv("ENTITLEMENTS_CONFIG_PATH", "", log)
	if path == "" {
		return defaultEntitlementsConfig()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Could not read entitlements config, using defaults", "path", path, "error", err)
		return defaultEntitlementsConfig()
	}
	var cfg EntitlementsConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		log.Warn("Could not parse entitlements config, using defaults", "path", path, "error", err)
		return defaultEntitlementsConfig()
	}
	if cfg.DefaultPlan == "" {
		cfg.DefaultPlan = "free"
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = defaultEntitlementsConfig().Plans
	}
	return cfg
}

// Usage is one quota dimension's consumption against its limit. Limit 0 with
// Unlimited false means the dimension is fully blocked for the plan.
type Usage struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Unlimited bool  `json:"unlimited"`
}

func (u Usage) Remaining() int64 {
	if u.Unlimited {
		return 1<<62 - 1
	}
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

type EntitlementsService interface {
	GetEffectivePlan(ctx context.Context, projectID uuid.UUID) (PlanLimits, error)
	GetDailyAIUsage(ctx context.Context, projectID uuid.UUID, plan PlanLimits) (Usage, error)
	GetMonthlyTokenUsage(ctx context.Context, projectID uuid.UUID, plan PlanLimits) (Usage, error)
	GetDailyWriteUsage(ctx context.Context, projectID uuid.UUID, plan PlanLimits) (Usage, error)
	RecordAICalls(ctx context.Context, projectID uuid.UUID, calls int64, tokens int64) error
	RecordWrites(ctx context.Context, projectID uuid.UUID, writes int64) error
}

type entitlementsService struct {
	rdb      *redis.Client
	log      *logger.Logger
	cfg      EntitlementsConfig
	projects repos.ProjectRepo
}

func NewEntitlementsService(rdb *redis.Client, baseLog *logger.Logger, cfg EntitlementsConfig, projects repos.ProjectRepo) EntitlementsService {
	return &entitlementsService{
		rdb:      rdb,
		log:      baseLog.With("service", "EntitlementsService"),
		cfg:      cfg,
		projects: projects,
	}
}

func NewRedisClient(log *logger.Logger) *redis.Client {
	addr := utils.GetEnv("REDIS_ADDR", "localhost:6379", log)
	password := utils.GetEnv("REDIS_PASSWORD", "", log)
	db := utils.GetEnvAsInt("REDIS_DB", 0, log)
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (s *entitlementsService) GetEffectivePlan(ctx context.Context, projectID uuid.UUID) (PlanLimits, error) {
	planID := s.cfg.DefaultPlan
	project, err := s.projects.GetByID(ctx, nil, projectID)
	if err != nil {
		return PlanLimits{}, err
	}
	if project != nil && project.PlanID != "" {
		planID = project.PlanID
	}
	plan, ok := s.cfg.Plans[planID]
	if !ok {
		s.log.Warn("Unknown plan id, falling back to default", "plan_id", planID)
		plan, ok = s.cfg.Plans[s.cfg.DefaultPlan]
		if !ok {
			return PlanLimits{}, fmt.Errorf("no plan configuration for %q or default", planID)
		}
	}
	return plan, nil
}

func dayKey(prefix string, projectID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s", prefix, projectID, now.UTC().Format("20060102"))
}

func monthKey(prefix string, projectID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s", prefix, projectID, now.UTC().Format("200601"))
}

func (s *entitlementsService) getCounter(ctx context.Context, key string) (int64, error) {
	val, err := s.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (s *entitlementsService) GetDailyAIUsage(ctx context.Context, projectID uuid.UUID, plan PlanLimits) (Usage, error) {
	used, err := s.getCounter(ctx, dayKey("ai:usage", projectID, time.Now()))
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: used, Limit: plan.AIDailyLimit, Unlimited: plan.AIDailyLimit < 0}, nil
}

func (s *entitlementsService) GetMonthlyTokenUsage(ctx context.Context, projectID uuid.UUID, plan PlanLimits) (Usage, error) {
	used, err := s.getCounter(ctx, monthKey("ai:tokens", projectID, time.Now()))
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: used, Limit: plan.MonthlyTokenCap, Unlimited: plan.MonthlyTokenCap < 0}, nil
}

func (s *entitlementsService) GetDailyWriteUsage(ctx context.Context, projectID uuid.UUID, plan PlanLimits) (Usage, error) {
	used, err := s.getCounter(ctx, dayKey("apply:writes", projectID, time.Now()))
	if err != nil {
		return Usage{}, err
	}
	// Write limit 0 means the plan does not meter apply writes.
	return Usage{Used: used, Limit: plan.ApplyDailyWriteLimit, Unlimited: plan.ApplyDailyWriteLimit <= 0}, nil
}

func (s *entitlementsService) RecordAICalls(ctx context.Context, projectID uuid.UUID, calls int64, tokens int64) error {
	now := time.Now()
	pipe := s.rdb.TxPipeline()
	if calls > 0 {
		key := dayKey("ai:usage", projectID, now)
		pipe.IncrBy(ctx, key, calls)
		pipe.Expire(ctx, key, 48*time.Hour)
	}
	if tokens > 0 {
		key := monthKey("ai:tokens", projectID, now)
		pipe.IncrBy(ctx, key, tokens)
		pipe.Expire(ctx, key, 35*24*time.Hour)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *entitlementsService) RecordWrites(ctx context.Context, projectID uuid.UUID, writes int64) error {
	if writes <= 0 {
		return nil
	}
	now := time.Now()
	key := dayKey("apply:writes", projectID, now)
	pipe := s.rdb.TxPipeline()
	pipe.IncrBy(ctx, key, writes)
	pipe.Expire(ctx, key, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
