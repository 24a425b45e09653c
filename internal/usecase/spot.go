package usecase

import (
	"context"
	"strings"

	"lawagent-followup/internal/domain"
	"lawagent-followup/internal/integrations/openai"
)

const (
	SpotIssuesTemperature = 0.3
	SpotIssuesMaxTokens   = 700
)

// SpotIssuesInput is the raw document submitted for issue spotting.
type SpotIssuesInput struct {
	RequestID string
	Text      string
}

// SpotIssuesOutput holds the bullet-point analysis. Clients pass it back as
// the context of later follow-up questions.
type SpotIssuesOutput struct {
	Issues string
}

// SpotIssues identifies the legal issues raised by a document. It shares the
// model, timeout and error mapping of Answer but uses its own sampling settings.
func (s *FollowupService) SpotIssues(ctx context.Context, in SpotIssuesInput) (SpotIssuesOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return SpotIssuesOutput{}, newError(ErrorValidation, "empty_text", "text required", nil)
	}

	issues, err := s.complete(ctx, in.RequestID, "spot_issues", openai.ChatRequest{
		Messages:    buildSpotIssuesMessages(text),
		Temperature: SpotIssuesTemperature,
		MaxTokens:   SpotIssuesMaxTokens,
	})
	if err != nil {
		return SpotIssuesOutput{}, err
	}
	if issues == "" {
		s.logger.Warn("spot_issues provider returned empty answer",
			"correlation_id", in.RequestID,
			"model", s.settings.Model,
		)
		return SpotIssuesOutput{}, newError(ErrorEmptyAnswer, "empty_completion", "The AI did not return an issue analysis.", nil)
	}
	return SpotIssuesOutput{Issues: issues}, nil
}

func buildSpotIssuesMessages(text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "You are a skilled litigation attorney."},
		{Role: domain.RoleUser, Content: buildSpotIssuesPrompt(text)},
	}
}

func buildSpotIssuesPrompt(text string) string {
	return strings.Join([]string{
		"You are acting as a litigation associate at a commercial litigation firm.",
		"",
		"Identify all legal issues or causes of action raised in the document below.",
		"",
		"- Focus on legal issues (e.g., breach of contract, misrepresentation).",
		"- Give a 1-2 sentence explanation under each.",
		"- Present as bullet points.",
		"",
		"Document:",
		text,
	}, "\n")
}
