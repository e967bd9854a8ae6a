package config

import (
	"strconv"
	"time"

	"github.com/pitabwire/frame/config"
)

// DialogConfig holds configuration for the dialog service.
type DialogConfig struct {
	config.ConfigurationDefault

	SchemaDir string `envDefault:"./schemas" env:"SCHEMA_DIR"`

	RecognizerBackend    string `envDefault:"regex"                      env:"RECOGNIZER_BACKEND"`
	RecognizerFile       string `envDefault:"./recognizers/default.yaml" env:"RECOGNIZER_FILE"`
	RecognizerURL        string `envDefault:""                           env:"RECOGNIZER_URL"`
	RecognizerAuthType   string `envDefault:"none"                       env:"RECOGNIZER_AUTH_TYPE"`
	RecognizerAuthSecret string `envDefault:""                           env:"RECOGNIZER_AUTH_SECRET"`
	RecognizerTimeoutSec int    `envDefault:"5"                          env:"RECOGNIZER_TIMEOUT_SEC"`

	StateBackend  string `envDefault:"memory"         env:"STATE_BACKEND"`
	RedisAddress  string `envDefault:"localhost:6379" env:"REDIS_ADDRESS"`
	RedisPassword string `envDefault:""               env:"REDIS_PASSWORD"`
	RedisDB       int    `envDefault:"0"              env:"REDIS_DB"`

	ConversationTTLMin int    `envDefault:"30"           env:"CONVERSATION_TTL_MIN"`
	TriggerSelector    string `envDefault:"mostSpecific" env:"TRIGGER_SELECTOR"`
	SelectorSeed       uint64 `envDefault:"0"            env:"SELECTOR_SEED"`
	AutoEndDialog      bool   `envDefault:"true"         env:"AUTO_END_DIALOG"`

	RateLimitPerSec float64 `envDefault:"20" env:"RATE_LIMIT_PER_SEC"`
	RateLimitBurst  int     `envDefault:"40" env:"RATE_LIMIT_BURST"`

	OrderHookURL      string `envDefault:""      env:"ORDER_HOOK_URL"`
	OrderHookSecret   string `envDefault:""      env:"ORDER_HOOK_SECRET"`
	AllowPrivateHooks bool   `envDefault:"false" env:"ALLOW_PRIVATE_HOOKS"`
}

// ConversationTTL is how long an idle conversation is kept.
func (c *DialogConfig) ConversationTTL() time.Duration {
	if c.ConversationTTLMin <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ConversationTTLMin) * time.Minute
}

// RecognizerConfig builds the factory config map for the selected backend.
func (c *DialogConfig) RecognizerConfig() map[string]string {
	switch c.RecognizerBackend {
	case "http":
		return map[string]string{
			"url":         c.RecognizerURL,
			"auth_type":   c.RecognizerAuthType,
			"auth_secret": c.RecognizerAuthSecret,
			"timeout_sec": strconv.Itoa(c.RecognizerTimeoutSec),
		}
	case "regex":
		return map[string]string{"file": c.RecognizerFile}
	default:
		return map[string]string{}
	}
}
