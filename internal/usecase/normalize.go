package usecase

import (
	"reflect"
	"strings"

	"lawagent-followup/internal/domain"
)

// DefaultHistoryLimit is the number of most recent turns replayed to the provider.
const DefaultHistoryLimit = 12

// legacyAssistantRole is the assistant label used by older clients.
const legacyAssistantRole = "lawagent"

// AnswerInput is the raw follow-up request as received from the transport.
type AnswerInput struct {
	RequestID   string
	Question    string
	Context     string
	Instruction string
	Document    string
	History     []domain.Turn
}

// AnswerOutput is the successful follow-up result.
type AnswerOutput struct {
	Answer string
}

// NormalizeRequest trims and validates the raw input. Question and context are
// required; instruction and document are optional and left empty when blank.
func NormalizeRequest(in AnswerInput, historyLimit int) (domain.FollowupRequest, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return domain.FollowupRequest{}, newError(ErrorValidation, "empty_question", "question required", nil)
	}
	context := strings.TrimSpace(in.Context)
	if context == "" {
		return domain.FollowupRequest{}, newError(ErrorValidation, "empty_context", "context required", nil)
	}
	return domain.FollowupRequest{
		Question:    question,
		Context:     context,
		Instruction: strings.TrimSpace(in.Instruction),
		Document:    strings.TrimSpace(in.Document),
		History:     NormalizeHistory(in.History, historyLimit),
	}, nil
}

// NormalizeHistory drops empty and nil turns, maps roles onto user/assistant
// and keeps only the last limit turns in chronological order.
func NormalizeHistory(turns []domain.Turn, limit int) []domain.ChatMessage {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	out := make([]domain.ChatMessage, 0, len(turns))
	for _, t := range turns {
		if isNilTurn(t) {
			continue
		}
		content := strings.TrimSpace(t.TurnContent())
		if content == "" {
			continue
		}
		out = append(out, domain.ChatMessage{Role: normalizeRole(t.TurnRole()), Content: content})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case domain.RoleAssistant, domain.RoleSystem, legacyAssistantRole:
		return domain.RoleAssistant
	default:
		return domain.RoleUser
	}
}

// isNilTurn reports a nil interface or a typed nil pointer behind it.
func isNilTurn(t domain.Turn) bool {
	if t == nil {
		return true
	}
	v := reflect.ValueOf(t)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
