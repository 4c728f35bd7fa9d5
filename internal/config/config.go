package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// PlaceholderAPIKey is the value the provisioning scripts seed into .env.
const PlaceholderAPIKey = "your-key-here"

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Log struct {
		Level string
	}
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Watch struct {
		Dir               string
		ResultsDir        string
		PollInterval      time.Duration
		StabilityWait     time.Duration
		UseNotify         bool
		DefaultStrictness int
		NoBrand           bool
	}
	Vision struct {
		APIKey  string
		BaseURL string
		Model   string
		Timeout time.Duration
	}
	Modbus struct {
		Addr        string
		CoilAddress uint16
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret        string
		RegisterPassword string
		TokenTTL         time.Duration
	}
}

// Load reads configuration from .env, environment variables and an optional config file.
// An empty path searches the working directory for config.yaml.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // optional file, never overrides the environment

	v := viper.New()
	v.SetEnvPrefix("INSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/inspector.db")
	v.SetDefault("watch.dir", "/home/keyence/iv3_images")
	v.SetDefault("watch.resultsdir", "/home/keyence/results")
	v.SetDefault("watch.pollinterval", 3*time.Second)
	v.SetDefault("watch.stabilitywait", time.Second)
	v.SetDefault("watch.usenotify", true)
	v.SetDefault("watch.defaultstrictness", 3)
	v.SetDefault("watch.nobrand", false)
	v.SetDefault("vision.apikey", "")
	v.SetDefault("vision.baseurl", "")
	v.SetDefault("vision.model", "gpt-4o-mini")
	v.SetDefault("vision.timeout", 60*time.Second)
	v.SetDefault("modbus.addr", "0.0.0.0:502")
	v.SetDefault("modbus.coiladdress", 1)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "inspections")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.registerpassword", "")
	v.SetDefault("auth.tokenttl", 12*time.Hour)

	// the provisioning scripts seed the bare OpenAI variable name
	_ = v.BindEnv("vision.apikey", "INSPECTOR_VISION_APIKEY", "OPENAI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // optional file
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	key := strings.TrimSpace(c.Vision.APIKey)
	if key == "" || key == PlaceholderAPIKey {
		return errors.New("missing OPENAI_API_KEY")
	}
	if strings.TrimSpace(c.Watch.Dir) == "" {
		return errors.New("watch dir is required")
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("watch poll interval must be positive, got %s", c.Watch.PollInterval)
	}
	if c.Watch.DefaultStrictness < 1 || c.Watch.DefaultStrictness > 5 {
		return fmt.Errorf("strictness must be between 1 and 5, got %d", c.Watch.DefaultStrictness)
	}
	if c.Modbus.CoilAddress > 99 {
		return fmt.Errorf("coil address must be between 0 and 99, got %d", c.Modbus.CoilAddress)
	}
	return nil
}
