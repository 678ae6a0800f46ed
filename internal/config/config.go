// Package config loads fitzbot application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (FITZBOT_SERVER_PORT, ...).
const EnvPrefix = "FITZBOT"

// Config is the root application configuration.
type Config struct {
	Events  EventsConfig  `mapstructure:"events"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Server  ServerConfig  `mapstructure:"server"`
	Lights  LightsConfig  `mapstructure:"lights"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Chat    ChatConfig    `mapstructure:"chat"`
	YouTube YouTubeConfig `mapstructure:"youtube"`
	PayPal  PayPalConfig  `mapstructure:"paypal"`
	Journal JournalConfig `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// EventsConfig locates the event map documents.
type EventsConfig struct {
	// Path is the root event map document. Empty means use the search paths.
	Path string `mapstructure:"path"`

	// GlobalsPath is the globals document. Optional.
	GlobalsPath string `mapstructure:"globals_path"`

	// ReloadDebounce coalesces bursts of file events.
	ReloadDebounce time.Duration `mapstructure:"reload_debounce"`
}

// QueueConfig tunes the action queue.
type QueueConfig struct {
	AllowAudio bool          `mapstructure:"allow_audio"`
	DelayUnit  time.Duration `mapstructure:"delay_unit"`
}

// ServerConfig configures the HTTP and gRPC listeners.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	GRPCPort int    `mapstructure:"grpc_port"`

	// FireRate and FireBurst limit the /api fire endpoints.
	FireRate  float64 `mapstructure:"fire_rate"`
	FireBurst int     `mapstructure:"fire_burst"`
}

// LightsConfig configures the Hue bridge client.
type LightsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Group   string        `mapstructure:"group"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AudioConfig configures external playback programs.
type AudioConfig struct {
	SoundDir string   `mapstructure:"sound_dir"`
	Player   []string `mapstructure:"player"`
	TTS      []string `mapstructure:"tts"`
}

// ChatConfig configures the chat command parser.
type ChatConfig struct {
	Channel string `mapstructure:"channel"`
	BotName string `mapstructure:"bot_name"`

	// UserRate and UserBurst throttle commands per chatter.
	UserRate  float64 `mapstructure:"user_rate"`
	UserBurst int     `mapstructure:"user_burst"`

	// Online is posted once at startup; Announce at startup and then every
	// AnnounceInterval. Both render {{bot}}. Empty texts are not sent.
	Online           string        `mapstructure:"online"`
	Announce         string        `mapstructure:"announce"`
	AnnounceInterval time.Duration `mapstructure:"announce_interval"`
}

// YouTubeConfig configures the latest-video lookup.
type YouTubeConfig struct {
	ChannelID string        `mapstructure:"channel_id"`
	APIKey    string        `mapstructure:"api_key"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// PayPalConfig configures the IPN payment notifier.
type PayPalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	VerifyURL string `mapstructure:"verify_url"`
}

// JournalConfig configures the sqlite dispatch journal.
type JournalConfig struct {
	// Path is the sqlite file. Empty disables the journal.
	Path string `mapstructure:"path"`

	// Retention drops older entries at startup. Zero keeps everything.
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Events: EventsConfig{
			ReloadDebounce: 200 * time.Millisecond,
		},
		Queue: QueueConfig{
			AllowAudio: true,
			DelayUnit:  time.Second,
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			GRPCPort:  0,
			FireRate:  20,
			FireBurst: 40,
		},
		Lights: LightsConfig{
			Group:   "1",
			Timeout: 500 * time.Millisecond,
		},
		Audio: AudioConfig{
			SoundDir: ".",
			Player:   []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
			TTS:      []string{"espeak"},
		},
		Chat: ChatConfig{
			BotName:          "fitzbot",
			UserRate:         1,
			UserBurst:        3,
			Online:           "{{bot}} is online!",
			Announce:         "Try out some of {{bot}}'s commands: '!hue', '!dice', '!ping'",
			AnnounceInterval: 15 * time.Minute,
		},
		YouTube: YouTubeConfig{
			TTL: 30 * time.Minute,
		},
		PayPal: PayPalConfig{
			VerifyURL: "https://ipnpb.paypal.com/cgi-bin/webscr",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	if c.Queue.DelayUnit <= 0 {
		errs = append(errs, errors.New("queue.delay_unit must be positive"))
	}
	if c.Chat.AnnounceInterval < 0 {
		errs = append(errs, errors.New("chat.announce_interval must not be negative"))
	}
	if c.Journal.Retention < 0 {
		errs = append(errs, errors.New("journal.retention must not be negative"))
	}
	if c.Lights.Enabled && strings.TrimSpace(c.Lights.BaseURL) == "" {
		errs = append(errs, errors.New("lights.base_url is required when lights are enabled"))
	}
	return errors.Join(errs...)
}

// Load reads configuration from path (or the search paths when empty),
// environment variables and an optional .env file.
func Load(path string) (*Config, *viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range SearchDirs() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, v, nil
}

// SearchDirs returns config directories in precedence order.
func SearchDirs() []string {
	dirs := []string{filepath.Join(".", ".fitzbot")}
	dirs = append(dirs, DefaultConfigDir())
	return dirs
}

// DefaultConfigDir honors XDG_CONFIG_HOME, falling back to ~/.config/fitzbot.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fitzbot")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", ".fitzbot")
	}
	return filepath.Join(home, ".config", "fitzbot")
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("events.path", cfg.Events.Path)
	v.SetDefault("events.globals_path", cfg.Events.GlobalsPath)
	v.SetDefault("events.reload_debounce", cfg.Events.ReloadDebounce)

	v.SetDefault("queue.allow_audio", cfg.Queue.AllowAudio)
	v.SetDefault("queue.delay_unit", cfg.Queue.DelayUnit)

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.grpc_port", cfg.Server.GRPCPort)
	v.SetDefault("server.fire_rate", cfg.Server.FireRate)
	v.SetDefault("server.fire_burst", cfg.Server.FireBurst)

	v.SetDefault("lights.enabled", cfg.Lights.Enabled)
	v.SetDefault("lights.base_url", cfg.Lights.BaseURL)
	v.SetDefault("lights.group", cfg.Lights.Group)
	v.SetDefault("lights.timeout", cfg.Lights.Timeout)

	v.SetDefault("audio.sound_dir", cfg.Audio.SoundDir)
	v.SetDefault("audio.player", cfg.Audio.Player)
	v.SetDefault("audio.tts", cfg.Audio.TTS)

	v.SetDefault("chat.channel", cfg.Chat.Channel)
	v.SetDefault("chat.bot_name", cfg.Chat.BotName)
	v.SetDefault("chat.user_rate", cfg.Chat.UserRate)
	v.SetDefault("chat.user_burst", cfg.Chat.UserBurst)
	v.SetDefault("chat.online", cfg.Chat.Online)
	v.SetDefault("chat.announce", cfg.Chat.Announce)
	v.SetDefault("chat.announce_interval", cfg.Chat.AnnounceInterval)

	v.SetDefault("youtube.channel_id", cfg.YouTube.ChannelID)
	v.SetDefault("youtube.api_key", cfg.YouTube.APIKey)
	v.SetDefault("youtube.ttl", cfg.YouTube.TTL)

	v.SetDefault("paypal.enabled", cfg.PayPal.Enabled)
	v.SetDefault("paypal.verify_url", cfg.PayPal.VerifyURL)

	v.SetDefault("journal.path", cfg.Journal.Path)
	v.SetDefault("journal.retention", cfg.Journal.Retention)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}
