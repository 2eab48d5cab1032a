package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the memory service.
type Profile struct {
	// Model configuration (OpenAI-compatible protocol).
	ModelAPIKey         string
	ModelBaseURL        string
	ModelChatModel      string
	ModelEmbeddingModel string
	ModelEmbedDim       int
	ModelTimeout        int // seconds
	ModelRequestsPerSec float64

	// ObjectDir is where artifact blobs are stored. Defaults under Data.
	ObjectDir string

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsModelEnabled reports whether a model adapter can be constructed.
func (p *Profile) IsModelEnabled() bool {
	return p.ModelAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.ModelAPIKey = getEnvOrDefault("MNEMO_MODEL_API_KEY", "")
	p.ModelBaseURL = getEnvOrDefault("MNEMO_MODEL_BASE_URL", "https://api.openai.com/v1")
	p.ModelChatModel = getEnvOrDefault("MNEMO_MODEL_CHAT_MODEL", "gpt-4o-mini")
	p.ModelEmbeddingModel = getEnvOrDefault("MNEMO_MODEL_EMBEDDING_MODEL", "text-embedding-3-small")
	p.ModelEmbedDim = getEnvOrDefaultInt("MNEMO_MODEL_EMBED_DIM", 768)
	p.ModelTimeout = getEnvOrDefaultInt("MNEMO_MODEL_TIMEOUT_SECONDS", 120)
	p.ModelRequestsPerSec = getEnvOrDefaultFloat("MNEMO_MODEL_REQUESTS_PER_SEC", 10)

	p.ObjectDir = getEnvOrDefault("MNEMO_OBJECT_DIR", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if a relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and fills derived defaults.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "mnemo")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0o770); err != nil {
					return errors.Wrapf(err, "failed to create data directory %s", p.Data)
				}
			}
		} else {
			p.Data = "/var/opt/mnemo"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "" {
		p.Driver = "postgres"
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(p.Data, fmt.Sprintf("mnemo_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	if p.ObjectDir == "" {
		p.ObjectDir = filepath.Join(p.Data, "objects")
	}
	return nil
}
