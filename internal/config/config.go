package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Settings is the process configuration read from the environment.
type Settings struct {
	Port     string
	Env      string
	APIToken string

	LogLevel    string
	LogDir      string
	LogMaxSize  datasize.ByteSize
	LogMaxFiles int

	OutputFolder  string
	UploadFolder  string
	MaxUploadSize datasize.ByteSize

	DatabasePath   string
	ReposDir       string
	ReviewerConfig string
	// AllowLocalRepos lets git_url name a path on this host.
	AllowLocalRepos bool

	AIProvider    string
	OpenAIAPIKey  string
	OpenAIAPIBase string
	OpenAIModel   string
	GeminiAPIKey  string
	GeminiModel   string

	ZAISearchAPIKey  string
	ZAISearchAPIBase string

	DashScopeAPIKey  string
	DashScopeAPIBase string

	MinerUToken   string
	MinerUAPIBase string

	KnowledgeMaxContentLength int
	KnowledgeMaxDocItems      int

	RateLimitRPS float64

	rawLogMaxSize    string
	rawMaxUploadSize string
}

// Load reads .env (when present) and the process environment.
func Load() *Settings {
	_ = godotenv.Load()

	s := &Settings{
		Port:     getenv("PORT", "5000"),
		Env:      getenv("FLASK_ENV", "production"),
		APIToken: os.Getenv("API_TOKEN"),

		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogDir:      os.Getenv("LOG_DIR"),
		LogMaxFiles: getenvInt("LOG_MAX_FILES", 3),

		OutputFolder: getenv("OUTPUT_FOLDER", "outputs"),
		UploadFolder: getenv("UPLOAD_FOLDER", "uploads"),

		DatabasePath:    getenv("DATABASE_PATH", "data/vibe_reviewer.db"),
		ReposDir:        getenv("REPOS_DIR", "data/repos"),
		ReviewerConfig:  getenv("REVIEWER_CONFIG", "config/reviewer.yaml"),
		AllowLocalRepos: getenvBool("ALLOW_LOCAL_REPOS", false),

		AIProvider:    strings.ToLower(getenv("AI_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIAPIBase: strings.TrimRight(getenv("OPENAI_API_BASE", "https://api.openai.com/v1"), "/"),
		OpenAIModel:   getenv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getenv("GEMINI_MODEL", "gemini-2.0-flash"),

		ZAISearchAPIKey:  os.Getenv("ZAI_SEARCH_API_KEY"),
		ZAISearchAPIBase: strings.TrimRight(getenv("ZAI_SEARCH_API_BASE", "https://open.bigmodel.cn/api/paas/v4"), "/"),

		DashScopeAPIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		DashScopeAPIBase: strings.TrimRight(getenv("DASHSCOPE_API_BASE", "https://dashscope.aliyuncs.com"), "/"),

		MinerUToken:   os.Getenv("MINERU_TOKEN"),
		MinerUAPIBase: strings.TrimRight(getenv("MINERU_API_BASE", "https://mineru.net"), "/"),

		KnowledgeMaxContentLength: getenvInt("KNOWLEDGE_MAX_CONTENT_LENGTH", 8000),
		KnowledgeMaxDocItems:      getenvInt("KNOWLEDGE_MAX_DOC_ITEMS", 10),

		RateLimitRPS: getenvFloat("RATE_LIMIT_RPS", 5),

		rawLogMaxSize:    getenv("LOG_MAX_SIZE", "10MB"),
		rawMaxUploadSize: getenv("MAX_UPLOAD_SIZE", "32MB"),
	}
	_ = s.LogMaxSize.UnmarshalText([]byte(s.rawLogMaxSize))
	_ = s.MaxUploadSize.UnmarshalText([]byte(s.rawMaxUploadSize))
	return s
}

// Development reports whether FLASK_ENV selects development mode.
func (s *Settings) Development() bool { return s.Env == "development" }

// Addr is the listen address for the HTTP server.
func (s *Settings) Addr() string { return ":" + s.Port }

// Validate returns every configuration problem at once.
func (s *Settings) Validate() error {
	var result *multierror.Error

	switch s.AIProvider {
	case ProviderOpenAI:
		if s.OpenAIAPIKey == "" {
			result = multierror.Append(result, fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER=%s", ProviderOpenAI))
		}
	case ProviderGemini:
		if s.GeminiAPIKey == "" {
			result = multierror.Append(result, fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER=%s", ProviderGemini))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown AI_PROVIDER %q", s.AIProvider))
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown LOG_LEVEL %q", s.LogLevel))
	}

	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(s.rawLogMaxSize)); err != nil {
		result = multierror.Append(result, fmt.Errorf("LOG_MAX_SIZE: %w", err))
	}
	if err := size.UnmarshalText([]byte(s.rawMaxUploadSize)); err != nil {
		result = multierror.Append(result, fmt.Errorf("MAX_UPLOAD_SIZE: %w", err))
	}
	if s.LogMaxFiles < 1 {
		result = multierror.Append(result, fmt.Errorf("LOG_MAX_FILES must be positive"))
	}
	return result.ErrorOrNil()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(k))
	if err != nil {
		return def
	}
	return b
}

func getenvFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
