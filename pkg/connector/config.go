// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/craftbridge/pkg/atomicfile"
	"github.com/aiku/craftbridge/pkg/relay"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the bridge configuration document.
type Config struct {
	Mattermost   MattermostConfig   `yaml:"mattermost"`
	Minecraft    MinecraftConfig    `yaml:"minecraft"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	ResourcePack ResourcePackConfig `yaml:"resource_pack"`
	Emoji        EmojiConfig        `yaml:"emoji"`
	Logging      LoggingConfig      `yaml:"logging"`

	displaynameTemplate *template.Template
	avatarTemplate      *relay.AvatarTemplate
}

type MattermostConfig struct {
	ServerURL           string `yaml:"server_url"`
	BotToken            string `yaml:"bot_token"`
	CommandToken        string `yaml:"command_token"`
	ChannelID           string `yaml:"channel_id"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	// BotPrefix is a username prefix for echo prevention. Posts from any
	// username starting with it are not relayed to the game.
	BotPrefix      string   `yaml:"bot_prefix"`
	ThreadContext  int      `yaml:"thread_context"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

type MinecraftConfig struct {
	RCONAddress    string `yaml:"rcon_address"`
	RCONPassword   string `yaml:"rcon_password"`
	LogPath        string `yaml:"log_path"`
	UnlinkCommand  string `yaml:"unlink_command"`
	AvatarTemplate string `yaml:"avatar_template"`
	RelayPresence  bool   `yaml:"relay_presence"`
}

type WebhookConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// Addr returns the listen address.
func (w WebhookConfig) Addr() string {
	return w.Host + ":" + strconv.Itoa(w.Port)
}

type ResourcePackConfig struct {
	Enabled     bool     `yaml:"enabled"`
	PublicHost  string   `yaml:"public_host"`
	Port        int      `yaml:"port"`
	PackFormat  int      `yaml:"pack_format"`
	Description string   `yaml:"description"`
	MaxWait     Duration `yaml:"max_wait"`
}

type EmojiConfig struct {
	Source            string   `yaml:"source"`
	SlackToken        string   `yaml:"slack_token"`
	Concurrency       int      `yaml:"concurrency"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess compiles the templates. It must be called after loading.
func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.Mattermost.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("invalid displayname_template: %w", err)
	}
	avatar := c.Minecraft.AvatarTemplate
	if avatar == "" {
		avatar = relay.DefaultAvatarTemplate
	}
	c.avatarTemplate, err = relay.NewAvatarTemplate(avatar)
	if err != nil {
		return fmt.Errorf("invalid avatar_template: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from the environment. Empty variables are
// ignored.
func (c *Config) ApplyEnv(log zerolog.Logger) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("WEBHOOK_HOST", &c.Webhook.Host)
	str("WEBHOOK_PATH", &c.Webhook.Path)
	if v := os.Getenv("WEBHOOK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			log.Warn().Str("value", v).Msg("Ignoring invalid WEBHOOK_PORT")
		} else {
			c.Webhook.Port = port
		}
	}
	if c.Webhook.Path != "" && !strings.HasPrefix(c.Webhook.Path, "/") {
		c.Webhook.Path = "/" + c.Webhook.Path
	}
	str("MATTERMOST_BOT_TOKEN", &c.Mattermost.BotToken)
	str("MATTERMOST_COMMAND_TOKEN", &c.Mattermost.CommandToken)
	str("RCON_PASSWORD", &c.Minecraft.RCONPassword)
	str("SLACK_TOKEN", &c.Emoji.SlackToken)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "bot_token")
	helper.Copy(up.Str, "mattermost", "command_token")
	helper.Copy(up.Str, "mattermost", "channel_id")
	helper.Copy(up.Str, "mattermost", "displayname_template")
	helper.Copy(up.Str, "mattermost", "bot_prefix")
	helper.Copy(up.Int, "mattermost", "thread_context")
	helper.Copy(up.Str, "mattermost", "request_timeout")

	helper.Copy(up.Str, "minecraft", "rcon_address")
	helper.Copy(up.Str, "minecraft", "rcon_password")
	helper.Copy(up.Str, "minecraft", "log_path")
	helper.Copy(up.Str, "minecraft", "unlink_command")
	helper.Copy(up.Str, "minecraft", "avatar_template")
	helper.Copy(up.Bool, "minecraft", "relay_presence")

	helper.Copy(up.Str, "webhook", "host")
	helper.Copy(up.Int, "webhook", "port")
	helper.Copy(up.Str, "webhook", "path")

	helper.Copy(up.Bool, "resource_pack", "enabled")
	helper.Copy(up.Str, "resource_pack", "public_host")
	helper.Copy(up.Int, "resource_pack", "port")
	helper.Copy(up.Int, "resource_pack", "pack_format")
	helper.Copy(up.Str, "resource_pack", "description")
	helper.Copy(up.Str, "resource_pack", "max_wait")

	helper.Copy(up.Str, "emoji", "source")
	helper.Copy(up.Str, "emoji", "slack_token")
	helper.Copy(up.Int, "emoji", "concurrency")
	helper.Copy(up.Str, "emoji", "request_timeout")
	helper.Copy(up.Int|up.Float, "emoji", "requests_per_second")

	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Bool, "logging", "pretty")
}

// LoadConfig reads the document at path and upgrades it onto the example
// config, so keys missing from an older file get their defaults. A missing
// file is created from the example config. A document that cannot be
// parsed is left untouched and the defaults are used, with a warning.
func LoadConfig(path string, log zerolog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Config file not found, writing defaults")
		if err := atomicfile.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
			log.Warn().Err(err).Msg("Failed to write default config")
		}
		return defaultConfig()
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	upgraded, err := upgradeDocument(data)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config file is invalid, using defaults")
		return defaultConfig()
	}
	var cfg Config
	if err := yaml.Unmarshal(upgraded, &cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config file is invalid, using defaults")
		return defaultConfig()
	}
	if string(upgraded) != string(data) {
		if err := atomicfile.WriteFile(path, upgraded, 0o600); err != nil {
			log.Warn().Err(err).Msg("Failed to save upgraded config")
		}
	}
	return &cfg, nil
}

// upgradeDocument copies every known key of data onto the example config
// and returns the merged document.
func upgradeDocument(data []byte) ([]byte, error) {
	var base, cfg yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Content) == 0 || cfg.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("config document is not a mapping")
	}
	upgradeConfig(up.NewHelper(&base, &cfg))
	return yaml.Marshal(&base)
}

func defaultConfig() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	return &cfg, nil
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Username
	}
	var buf []byte
	err := c.displaynameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil || len(buf) == 0 {
		return params.Username
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
