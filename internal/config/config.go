package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Config holds every externalized setting of the detection service. Values
// come from the environment (loaded from .env at startup) with defaults
// matching the original deployment.
type Config struct {
	Port          string  `validate:"required"`
	RunnerURL     string  `validate:"required,url"`
	RunnerWSURL   string  `validate:"omitempty,url"`
	Weights       string  `validate:"required"`
	ConfThreshold float64 `validate:"gte=0,lte=1"`
	UploadDir     string  `validate:"required"`
	OutputDir     string  `validate:"required"`
	RetainOutputs bool
}

func Load(v *validator.Validate) (*Config, error) {
	conf, err := strconv.ParseFloat(getEnv("CONF_THRESHOLD", "0.5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CONF_THRESHOLD: %w", err)
	}

	retain, err := strconv.ParseBool(getEnv("OUTPUT_RETAIN", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid OUTPUT_RETAIN: %w", err)
	}

	cfg := &Config{
		Port:          getEnv("APP_PORT", "8000"),
		RunnerURL:     getEnv("RUNNER_URL", "http://localhost:9000"),
		RunnerWSURL:   getEnv("RUNNER_WS_URL", "ws://localhost:9000/stream"),
		Weights:       getEnv("MODEL_WEIGHTS", "yolov8n.pt"),
		ConfThreshold: conf,
		UploadDir:     getEnv("TEMP_UPLOAD_DIR", "temp_uploads"),
		OutputDir:     getEnv("TEMP_OUTPUT_DIR", "temp_outputs"),
		RetainOutputs: retain,
	}

	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
