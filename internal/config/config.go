package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Decode modes understood by the trainer.
const (
	DecodeGrammar     = "grammar"
	DecodeArpa        = "arpa"
	DecodeArpaRescore = "arpa_rescore"
)

type Config struct {
	Addr      string
	DataDir   string
	TrainDir  string
	ModelsDir string
	ToolsDir  string

	DecodeMode       string
	ArpaRescoreOrder int // 0 means trainer default
	TrainCommand     []string
	ModelBaseURL     string

	StreamTimeout time.Duration
	JobTimeout    time.Duration // 0 disables

	HassToken        string
	HassWebsocketURI string
	HassIngress      bool
}

func Load() Config {
	dataDir := getenv("RS_DATA_DIR", filepath.Join("..", "..", "local-data"))
	return Config{
		Addr:             getenv("RS_API_ADDR", ":8099"),
		DataDir:          dataDir,
		TrainDir:         getenv("RS_TRAIN_DIR", filepath.Join(dataDir, "train")),
		ModelsDir:        getenv("RS_MODELS_DIR", filepath.Join(dataDir, "models")),
		ToolsDir:         getenv("RS_TOOLS_DIR", filepath.Join(dataDir, "tools")),
		DecodeMode:       getenvChoice("RS_DECODE_MODE", DecodeArpa, DecodeGrammar, DecodeArpa, DecodeArpaRescore),
		ArpaRescoreOrder: getenvInt("RS_ARPA_RESCORE_ORDER", 0),
		TrainCommand:     getenvFields("RS_TRAIN_COMMAND", []string{"python3", "-m", "rhasspy_speech.train"}),
		ModelBaseURL:     getenv("RS_MODEL_BASE_URL", "https://huggingface.co/datasets/rhasspy/rhasspy-speech/resolve/main/models"),
		StreamTimeout:    getenvDuration("RS_STREAM_TIMEOUT", 2*time.Hour),
		JobTimeout:       getenvDuration("RS_JOB_TIMEOUT", 0),
		HassToken:        strings.TrimSpace(os.Getenv("RS_HASS_TOKEN")),
		HassWebsocketURI: getenv("RS_HASS_WEBSOCKET_URI", "homeassistant.local"),
		HassIngress:      getenvBool("RS_HASS_INGRESS", false),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvChoice(key, fallback string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func getenvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	return raw == "1" || raw == "true" || raw == "yes" || raw == "on"
}

// getenvFields splits a command line on whitespace. No shell quoting is applied.
func getenvFields(key string, fallback []string) []string {
	fields := strings.Fields(os.Getenv(key))
	if len(fields) == 0 {
		return fallback
	}
	return fields
}
