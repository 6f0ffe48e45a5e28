package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"liftbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Backup        BackupConfig       `yaml:"backup"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	API           APIConfig          `yaml:"api"`
	Exports       ExportConfig       `yaml:"exports"`
	Pricing       PricingConfig      `yaml:"pricing"`
	Geo           GeoConfig          `yaml:"geo"`
	Payments      PaymentsConfig     `yaml:"payments"`
	Notifications NotificationConfig `yaml:"notifications"`
	Google        GoogleConfig       `yaml:"google"`
	Users         []models.User      `yaml:"users"`
	Fleet         []models.Vehicle   `yaml:"fleet"`
}

type AppConfig struct {
	Name                string        `yaml:"name"`
	Environment         string        `yaml:"environment"`
	Version             string        `yaml:"version"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
	LockTTL             time.Duration `yaml:"lock_ttl"`
	MaxBookingDays      int           `yaml:"max_booking_days"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	JWT       APIJWTConfig       `yaml:"jwt"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// APIJWTConfig configures verification of the bearer token that carries the
// acting user's id.
type APIJWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	HealthCheckPort   int    `yaml:"health_check_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	Enabled               bool   `yaml:"enabled"`
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
	SheetName             string `yaml:"sheet_name"`
	// ResyncDays rewrites the sheet on startup from bookings dated within
	// this many days of today; 0 disables the resync.
	ResyncDays int `yaml:"resync_days"`
}

// PricingConfig holds rate tables keyed by service type. Amounts are cents.
type PricingConfig struct {
	Instant           StrategyRates `yaml:"instant"`
	Refined           StrategyRates `yaml:"refined"`
	WeightThresholdKg float64       `yaml:"weight_threshold_kg"`
	WeightStepKg      float64       `yaml:"weight_step_kg"`
	WeightStepCents   int64         `yaml:"weight_step_cents"`
	SiteRules         []SiteRule    `yaml:"site_rules"`
}

type StrategyRates struct {
	Base        map[string]int64   `yaml:"base"`
	PerKm       map[string]int64   `yaml:"per_km"`
	Hourly      map[string]int64   `yaml:"hourly"`
	DepositRate map[string]float64 `yaml:"deposit_rate"`
}

type SiteRule struct {
	Keyword        string `yaml:"keyword"`
	SurchargeCents int64  `yaml:"surcharge_cents"`
}

type GeoConfig struct {
	RoadFactor         float64 `yaml:"road_factor"`
	FallbackDistanceKm float64 `yaml:"fallback_distance_km"`
}

type PaymentsConfig struct {
	Provider string `yaml:"provider"`
	// DeclineAboveCents makes the simulated provider fail larger charges; 0 disables it.
	DeclineAboveCents int64 `yaml:"decline_above_cents"`
}

type NotificationConfig struct {
	Channel  string         `yaml:"channel"`
	Telegram TelegramConfig `yaml:"telegram"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type WorkerConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

const (
	ChannelLog      = "log"
	ChannelTelegram = "telegram"
	ChannelAMQP     = "amqp"
)

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.API.Enabled && c.API.JWT.Secret == "" {
		return errors.New("api jwt secret is required")
	}

	switch c.Notifications.Channel {
	case ChannelLog:
	case ChannelTelegram:
		if c.Notifications.Telegram.BotToken == "" {
			return errors.New("telegram bot token is required for telegram notifications")
		}
	case ChannelAMQP:
		if c.Notifications.AMQP.URL == "" {
			return errors.New("amqp url is required for amqp notifications")
		}
	default:
		return fmt.Errorf("unknown notification channel: %s", c.Notifications.Channel)
	}

	if c.Google.Enabled && (c.Google.GoogleCredentialsFile == "" || c.Google.BookingSpreadSheetID == "") {
		return errors.New("google credentials file and bookings spreadsheet id are required")
	}

	if err := ValidatePricing(c.Pricing); err != nil {
		return err
	}

	if err := ValidateUsers(c.Users); err != nil {
		return err
	}

	return ValidateFleet(c.Fleet)
}

// Deposits are a fixed share of the estimate per service type.
const (
	MinDepositRate = 0.20
	MaxDepositRate = 0.30
)

func ValidatePricing(p PricingConfig) error {
	for name, rates := range map[string]StrategyRates{"instant": p.Instant, "refined": p.Refined} {
		for _, st := range []models.ServiceType{models.ServiceCrane, models.ServiceBoxTruck} {
			if _, ok := rates.Base[string(st)]; !ok {
				return fmt.Errorf("pricing.%s: base rate for %s is missing", name, st)
			}
			if perKm, ok := rates.PerKm[string(st)]; !ok || perKm <= 0 {
				return fmt.Errorf("pricing.%s: per_km rate for %s must be positive", name, st)
			}
			if name == "refined" {
				if hourly, ok := rates.Hourly[string(st)]; !ok || hourly <= 0 {
					return fmt.Errorf("pricing.refined: hourly rate for %s must be positive", st)
				}
			}
			rate := rates.DepositRate[string(st)]
			if rate < MinDepositRate || rate > MaxDepositRate {
				return fmt.Errorf("pricing.%s: deposit rate for %s must be between %.2f and %.2f", name, st, MinDepositRate, MaxDepositRate)
			}
		}
	}
	if p.WeightStepKg <= 0 {
		return errors.New("pricing: weight_step_kg must be positive")
	}
	return nil
}

func ValidateUsers(users []models.User) error {
	ids := make(map[string]bool)
	for _, u := range users {
		if u.ID == "" {
			return fmt.Errorf("user '%s' has empty ID", u.Name)
		}
		if ids[u.ID] {
			return fmt.Errorf("duplicate user ID found: %s", u.ID)
		}
		if _, err := models.ParseRole(string(u.Role)); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
		ids[u.ID] = true
	}
	return nil
}

func ValidateFleet(fleet []models.Vehicle) error {
	ids := make(map[string]bool)
	for _, v := range fleet {
		if v.ID == "" {
			return fmt.Errorf("vehicle '%s' has empty ID", v.Name)
		}
		if ids[v.ID] {
			return fmt.Errorf("duplicate vehicle ID found: %s", v.ID)
		}
		if !v.Type.Valid() {
			return fmt.Errorf("vehicle %s has unknown type %q", v.ID, v.Type)
		}
		ids[v.ID] = true
	}
	return nil
}

// DefaultPricing returns the built-in rate tables.
func DefaultPricing() PricingConfig {
	return PricingConfig{
		Instant: StrategyRates{
			Base:        map[string]int64{"crane": 30000, "box_truck": 15000},
			PerKm:       map[string]int64{"crane": 250, "box_truck": 250},
			Hourly:      map[string]int64{},
			DepositRate: map[string]float64{"crane": 0.20, "box_truck": 0.20},
		},
		Refined: StrategyRates{
			Base:        map[string]int64{"crane": 25000, "box_truck": 12000},
			PerKm:       map[string]int64{"crane": 350, "box_truck": 250},
			Hourly:      map[string]int64{"crane": 17500, "box_truck": 8500},
			DepositRate: map[string]float64{"crane": 0.30, "box_truck": 0.30},
		},
		WeightThresholdKg: 1000,
		WeightStepKg:      100,
		WeightStepCents:   500,
		SiteRules: []SiteRule{
			{Keyword: "stairs", SurchargeCents: 5000},
			{Keyword: "narrow", SurchargeCents: 3000},
		},
	}
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "liftbook"
	}
	if c.App.CollaboratorTimeout == 0 {
		c.App.CollaboratorTimeout = models.DefaultCollaboratorTimeout * time.Second
	}
	if c.App.LockTTL == 0 {
		c.App.LockTTL = models.DefaultLockTTL * time.Second
	}
	if c.App.MaxBookingDays == 0 {
		c.App.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.JWT.Issuer == "" {
		c.API.JWT.Issuer = c.App.Name
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}

	c.Pricing.applyDefaults()

	if c.Geo.RoadFactor == 0 {
		c.Geo.RoadFactor = 1.3
	}
	if c.Geo.FallbackDistanceKm == 0 {
		c.Geo.FallbackDistanceKm = models.DefaultFallbackDistanceKm
	}
	if c.Payments.Provider == "" {
		c.Payments.Provider = "simulated"
	}

	if c.Notifications.Channel == "" {
		c.Notifications.Channel = ChannelLog
	}
	if c.Notifications.AMQP.Exchange == "" {
		c.Notifications.AMQP.Exchange = "liftbook.bookings"
	}
	w := &c.Notifications.Worker
	if w.MaxRetries == 0 {
		w.MaxRetries = 5
	}
	if w.InitialDelay == 0 {
		w.InitialDelay = 2 * time.Second
	}
	if w.MaxDelay == 0 {
		w.MaxDelay = time.Minute
	}
	if w.PollInterval == 0 {
		w.PollInterval = 2 * time.Second
	}
	if w.BatchSize == 0 {
		w.BatchSize = 20
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Bookings"
	}
}

// applyDefaults fills only the parts of the rate tables that were left empty,
// so a config file may override a single rate.
func (p *PricingConfig) applyDefaults() {
	def := DefaultPricing()
	mergeRates(&p.Instant, def.Instant)
	mergeRates(&p.Refined, def.Refined)
	if p.WeightThresholdKg == 0 {
		p.WeightThresholdKg = def.WeightThresholdKg
	}
	if p.WeightStepKg == 0 {
		p.WeightStepKg = def.WeightStepKg
	}
	if p.WeightStepCents == 0 {
		p.WeightStepCents = def.WeightStepCents
	}
	if p.SiteRules == nil {
		p.SiteRules = def.SiteRules
	}
}

func mergeRates(dst *StrategyRates, def StrategyRates) {
	dst.Base = mergeInt(dst.Base, def.Base)
	dst.PerKm = mergeInt(dst.PerKm, def.PerKm)
	dst.Hourly = mergeInt(dst.Hourly, def.Hourly)
	if dst.DepositRate == nil {
		dst.DepositRate = make(map[string]float64)
	}
	for k, v := range def.DepositRate {
		if _, ok := dst.DepositRate[k]; !ok {
			dst.DepositRate[k] = v
		}
	}
}

func mergeInt(dst, def map[string]int64) map[string]int64 {
	if dst == nil {
		dst = make(map[string]int64)
	}
	for k, v := range def {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}
