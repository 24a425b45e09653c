package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"lawagent-followup/internal/app"
)

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	a, err := app.Build(ctx, logger, os.Getenv)
	if err != nil {
		slog.Error("failed to build follow-up service", "err", err)
		os.Exit(1)
	}

	lambda.Start(a.Handler.Handle)
}
