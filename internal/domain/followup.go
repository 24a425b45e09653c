package domain

import "time"

// Turn is anything that can report a conversation role and its content.
// Callers may pass their own history types as long as they satisfy it.
type Turn interface {
	TurnRole() string
	TurnContent() string
}

// HistoryTurn is one prior conversation message supplied by the caller.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (t HistoryTurn) TurnRole() string    { return t.Role }
func (t HistoryTurn) TurnContent() string { return t.Content }

// FollowupRequest is the validated, trimmed request consumed by prompt assembly.
// Instruction and Document are empty when not provided.
type FollowupRequest struct {
	Question    string
	Context     string
	Instruction string
	Document    string
	History     []ChatMessage
}

// FollowupRecord is the metadata kept in the usage ledger for one call.
// It never carries request or answer text.
type FollowupRecord struct {
	PK             string
	SK             string
	RequestID      string
	Model          string
	Outcome        string
	HistoryTurns   int
	HasInstruction bool
	HasDocument    bool
	QuestionChars  int
	AnswerChars    int
	Latency        time.Duration
	CreatedAt      string
	TTL            int64
}
