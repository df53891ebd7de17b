package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"prod"`
	Platform string `yaml:"platform" env:"PLATFORM" env-default:"discord"`

	DiscordToken      string `yaml:"discord_token" env:"DISCORD_TOKEN" env-default:""`
	DiscordGuildID    string `yaml:"discord_guild_id" env:"DISCORD_GUILD_ID" env-default:""`
	TelegramToken     string `yaml:"telegram_token" env:"TELEGRAM_TOKEN" env-default:""`
	ReplicateApiToken string `yaml:"replicate_api_token" env:"REPLICATE_API_TOKEN" env-default:""`

	Replicate struct {
		BaseURL        string        `yaml:"base_url" env:"REPLICATE_BASE_URL" env-default:"https://api.replicate.com/v1"`
		TextModel      string        `yaml:"text_model" env-default:"meta/meta-llama-3-70b-instruct"`
		VisionModel    string        `yaml:"vision_model" env-default:"yorickvp/llava-13b:80537f9eead1a5bfa72d5ac6ea6414379be41d4d4f6679fd776e9535d1eb58bb"`
		ImageModel     string        `yaml:"image_model" env-default:"black-forest-labs/flux-schnell"`
		PollInterval   time.Duration `yaml:"poll_interval" env-default:"500ms"`
		RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"0s"`
	} `yaml:"replicate"`

	// NotifyEmptyImage makes the generate workflow report an image run that produced nothing
	NotifyEmptyImage bool `yaml:"notify_empty_image" env:"NOTIFY_EMPTY_IMAGE" env-default:"false"`

	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:"admin"`
		Password string `yaml:"password" env-default:"pass"`
		Database string `yaml:"database" env-default:"vizier"`
	} `yaml:"mongo"`
}

// Load reads the config file at path when it exists, otherwise only the
// environment. A .env file in the working directory is applied first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	conf := &Config{}
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		err = cleanenv.ReadConfig(path, conf)
	} else {
		err = cleanenv.ReadEnv(conf)
	}
	if err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("config: %s; %s", err, desc)
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func MustLoad(path string) *Config {
	conf, err := Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return conf
}

// Validate checks that the tokens needed by the selected platform are present.
func (c *Config) Validate() error {
	if c.ReplicateApiToken == "" {
		return errors.New("config: REPLICATE_API_TOKEN is not set")
	}
	switch c.Platform {
	case PlatformDiscord:
		if c.DiscordToken == "" {
			return errors.New("config: DISCORD_TOKEN is not set")
		}
	case PlatformTelegram:
		if c.TelegramToken == "" {
			return errors.New("config: TELEGRAM_TOKEN is not set")
		}
	default:
		return fmt.Errorf("config: unknown platform %q", c.Platform)
	}
	return nil
}
