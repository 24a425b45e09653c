package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"lawagent-followup/internal/integrations/paramstore"
	"lawagent-followup/internal/usecase"
)

const (
	DefaultModel     = "gpt-4o"
	DefaultLocalAddr = ":8080"

	tokenParam = "/open-ai-token"
	modelParam = "/config/openai_model"
)

// Settings is the process configuration, resolved once at start.
type Settings struct {
	APIKey       string
	Model        string
	BaseURL      string
	ParamPrefix  string
	UsageTable   string
	Temperature  float64
	Timeout      time.Duration
	HistoryLimit int
	LocalAddr    string
}

// Service returns the subset of Settings consumed by the follow-up pipeline.
func (s Settings) Service() usecase.Settings {
	return usecase.Settings{
		Model:        s.Model,
		Temperature:  s.Temperature,
		Timeout:      s.Timeout,
		HistoryLimit: s.HistoryLimit,
	}
}

// LookupFunc reads one environment variable; os.Getenv satisfies it.
type LookupFunc func(key string) string

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// Load reads the environment and falls back to Parameter Store under
// PARAM_PREFIX for the API key and model. params may be nil when no prefix is set.
func Load(ctx context.Context, env LookupFunc, params paramstore.Getter) (Settings, error) {
	if env == nil {
		return Settings{}, errors.New("config: env lookup must not be nil")
	}
	s := Settings{
		APIKey:      strings.TrimSpace(env("OPENAI_API_KEY")),
		Model:       strings.TrimSpace(env("OPENAI_MODEL")),
		BaseURL:     strings.TrimSpace(env("OPENAI_BASE_URL")),
		ParamPrefix: strings.TrimRight(strings.TrimSpace(env("PARAM_PREFIX")), "/"),
		UsageTable:  strings.TrimSpace(env("USAGE_TABLE")),
		LocalAddr:   strings.TrimSpace(env("LOCAL_ADDR")),
	}
	if s.LocalAddr == "" {
		s.LocalAddr = DefaultLocalAddr
	}

	var err error
	if s.Temperature, err = envFloat(env, "FOLLOWUP_TEMPERATURE", usecase.DefaultTemperature); err != nil {
		return Settings{}, err
	}
	// Zero is reserved for "unset" in usecase.Settings, so an explicit 0 is refused.
	if s.Temperature <= 0 || s.Temperature > 2 {
		return Settings{}, fmt.Errorf("config: FOLLOWUP_TEMPERATURE %v out of range (0, 2]", s.Temperature)
	}
	timeoutSeconds, err := envInt(env, "FOLLOWUP_TIMEOUT_SECONDS", int(usecase.DefaultTimeout/time.Second))
	if err != nil {
		return Settings{}, err
	}
	s.Timeout = time.Duration(timeoutSeconds) * time.Second
	if s.HistoryLimit, err = envInt(env, "FOLLOWUP_HISTORY_LIMIT", usecase.DefaultHistoryLimit); err != nil {
		return Settings{}, err
	}

	if s.APIKey == "" || s.Model == "" {
		if s.ParamPrefix == "" || params == nil {
			if s.APIKey == "" {
				return Settings{}, errors.New("config: OPENAI_API_KEY or PARAM_PREFIX must be set")
			}
		} else if err := s.loadFromParamStore(ctx, params); err != nil {
			return Settings{}, err
		}
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	return s, nil
}

func (s *Settings) loadFromParamStore(ctx context.Context, params paramstore.Getter) error {
	if s.APIKey == "" {
		key, err := fetchAPIKey(ctx, params, s.ParamPrefix+tokenParam)
		if err != nil {
			return err
		}
		s.APIKey = key
	}
	if s.Model == "" {
		model, ok, err := params.LookupParameter(ctx, s.ParamPrefix+modelParam)
		if err != nil {
			return fmt.Errorf("config: load openai model: %w", err)
		}
		if ok {
			s.Model = strings.TrimSpace(model)
		}
	}
	return nil
}

func fetchAPIKey(ctx context.Context, getter paramstore.Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("config: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("config: unmarshal paramstore token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", errors.New("config: API token is empty")
	}
	return strings.TrimSpace(tp.Token), nil
}

func envInt(env LookupFunc, key string, def int) (int, error) {
	v := strings.TrimSpace(env(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return n, nil
}

func envFloat(env LookupFunc, key string, def float64) (float64, error) {
	v := strings.TrimSpace(env(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("config: %s must be a finite number", key)
	}
	return f, nil
}
