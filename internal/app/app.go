package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"lawagent-followup/handler"
	"lawagent-followup/internal/config"
	"lawagent-followup/internal/integrations/openai"
	"lawagent-followup/internal/integrations/paramstore"
	"lawagent-followup/internal/repository"
	"lawagent-followup/internal/usecase"
)

// App holds the fully wired process components.
type App struct {
	Settings config.Settings
	Handler  *handler.Handler
}

// Build resolves configuration once from env and wires the follow-up pipeline.
// AWS clients are only created when Parameter Store or the usage ledger is configured.
func Build(ctx context.Context, logger *slog.Logger, env config.LookupFunc) (*App, error) {
	if env == nil {
		return nil, errors.New("app: env lookup must not be nil")
	}
	needsAWS := strings.TrimSpace(env("PARAM_PREFIX")) != "" || strings.TrimSpace(env("USAGE_TABLE")) != ""

	var (
		params   paramstore.Getter
		dynamoDB *awsdynamodb.Client
	)
	if needsAWS {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		params = ssmClient
		dynamoDB = awsdynamodb.NewFromConfig(cfg)
	}

	settings, err := config.Load(ctx, env, params)
	if err != nil {
		return nil, err
	}

	clientOpts := []openai.Option{}
	if settings.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(settings.BaseURL))
	}
	llm, err := openai.NewClient(settings.APIKey, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}

	svcOpts := []usecase.ServiceOption{usecase.WithLogger(logger)}
	if settings.UsageTable != "" && dynamoDB != nil {
		ledger, err := repository.NewUsageLedger(dynamoDB, settings.UsageTable)
		if err != nil {
			return nil, fmt.Errorf("app: create usage ledger: %w", err)
		}
		svcOpts = append(svcOpts, usecase.WithRecorder(ledger))
	}

	svc, err := usecase.NewFollowupService(llm, settings.Service(), svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create follow-up service: %w", err)
	}

	h, err := handler.NewHandler(svc, handler.WithIssueSpotter(svc))
	if err != nil {
		return nil, fmt.Errorf("app: create handler: %w", err)
	}

	logger.Info("follow-up service configured",
		"model", settings.Model,
		"temperature", settings.Temperature,
		"timeout", settings.Timeout.String(),
		"history_limit", settings.HistoryLimit,
		"usage_ledger", settings.UsageTable != "",
	)
	return &App{Settings: settings, Handler: h}, nil
}
