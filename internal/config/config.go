package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"

	defaultLessonsTail = 20
	defaultFilePreview = 50000
	defaultXERPreview  = 200000
)

type Config struct {
	HTTPPort string

	// Provider credentials, resolved from env (inline value or secret file).
	OpenAIKey      string
	AnthropicKey   string
	OpenAIModel    string
	AnthropicModel string // optional override, first fallback candidate when set

	SkillPath string

	// Key-value store endpoint. RedisURL empty means persistence is disabled.
	RedisURL   string
	RedisToken string

	// Prompt assembly tuning.
	LessonsTail int
	FilePreview int
	XERPreview  int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	return &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		OpenAIKey:      resolveSecret(getEnv("OPENAI_API_KEY", "")),
		AnthropicKey:   resolveSecret(getEnv("ANTHROPIC_API_KEY", "")),
		OpenAIModel:    getEnv("OPENAI_CHAT_MODEL", DefaultOpenAIModel),
		AnthropicModel: getEnv("ANTHROPIC_MODEL", ""),
		SkillPath:      getEnv("SCHEDULE_AGENT_SKILL_PATH", "skills/scheduling-agent/SKILL.md"),
		RedisURL:       getEnv("REDIS_URL", getEnv("KV_URL", "")),
		RedisToken:     getEnv("REDIS_TOKEN", getEnv("KV_TOKEN", "")),
		LessonsTail:    getEnvAsInt("PROMPT_LESSONS_TAIL", defaultLessonsTail),
		FilePreview:    getEnvAsInt("PROMPT_FILE_PREVIEW", defaultFilePreview),
		XERPreview:     getEnvAsInt("PROMPT_XER_PREVIEW", defaultXERPreview),
	}
}

// HasOpenAIKey reports whether the OpenAI credential looks usable.
func (c *Config) HasOpenAIKey() bool {
	return len(c.OpenAIKey) > 10
}

// HasAnthropicKey reports whether the Anthropic credential looks usable.
// When both keys are set, Anthropic wins provider selection.
func (c *Config) HasAnthropicKey() bool {
	return len(c.AnthropicKey) > 10
}

func (c *Config) PersistenceConfigured() bool {
	return c.RedisURL != ""
}

// resolveSecret supports both inline secrets and secret-file deployment:
// if the value names an existing file, the trimmed file contents are used.
func resolveSecret(value string) string {
	if value == "" {
		return ""
	}
	if info, err := os.Stat(value); err == nil && !info.IsDir() {
		data, err := os.ReadFile(value)
		if err != nil {
			log.Printf("Failed to read secret file %s: %v", value, err)
			return ""
		}
		return strings.TrimSpace(string(data))
	}
	return value
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}
