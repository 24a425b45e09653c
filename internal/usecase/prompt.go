package usecase

import (
	"strings"

	"lawagent-followup/internal/domain"
)

// buildPromptMessages assembles the provider conversation:
// persona, context, [instruction], [document], history, question.
func buildPromptMessages(req domain.FollowupRequest) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(req.History)+5)
	messages = append(messages,
		domain.ChatMessage{Role: domain.RoleSystem, Content: buildPersonaPrompt()},
		domain.ChatMessage{Role: domain.RoleSystem, Content: buildContextPrompt(req.Context)},
	)
	if req.Instruction != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: buildInstructionPrompt(req.Instruction)})
	}
	if req.Document != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: buildDocumentPrompt(req.Document)})
	}
	messages = append(messages, req.History...)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: buildQuestionPrompt(req.Question),
	})
	return messages
}

func buildPersonaPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are LAWAgent's conversational follow-up assistant.",
		"",
		"Task:",
		"Use the supplied issue spotter analysis to answer questions clearly, empathetically, and with practical legal insight.",
		"Reference the analysis, operator instructions, and source document when useful.",
		"Do not present the answer as formal legal advice.",
	}, "\n")
}

func buildContextPrompt(context string) string {
	return "Prior issue spotter analysis:\n" + context
}

func buildInstructionPrompt(instruction string) string {
	return "Operator instructions for this analysis:\n" + instruction
}

func buildDocumentPrompt(document string) string {
	return "Source document text:\n" + document
}

func buildQuestionPrompt(question string) string {
	return "Answer the user's follow-up question in a conversational, explanatory tone, " +
		"referencing the prior analysis where it helps:\n" + question
}
