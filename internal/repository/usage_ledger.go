package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"lawagent-followup/internal/domain"
)

const (
	pkPrefixDay   = "FOLLOWUP#"
	skPrefixCall  = "CALL#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
	dayKeyLayout  = "2006-01-02"
	unknownReqTag = "unknown"
)

// dynamodbAPI is the minimal DynamoDB interface required by UsageLedger.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// UsageLedger appends one metadata record per follow-up call.
// Records are partitioned by UTC day so a day's traffic can be queried together.
type UsageLedger struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewUsageLedger creates a ledger backed by the given table.
func NewUsageLedger(api dynamodbAPI, tableName string) (*UsageLedger, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &UsageLedger{api: api, tableName: tableName, now: time.Now}, nil
}

// dayPK returns the partition key for all calls made on ts's UTC day.
func dayPK(ts time.Time) string {
	return pkPrefixDay + ts.UTC().Format(dayKeyLayout)
}

// callSK orders calls by time; the request ID keeps concurrent calls distinct.
func callSK(ts time.Time, requestID string) string {
	return skPrefixCall + ts.UTC().Format(time.RFC3339Nano) + "#" + requestID
}

// NewFollowupRecord fills the key, timestamp and TTL fields of rec.
func NewFollowupRecord(rec domain.FollowupRecord, now time.Time) domain.FollowupRecord {
	if strings.TrimSpace(rec.RequestID) == "" {
		rec.RequestID = unknownReqTag + "-" + uuid.NewString()
	}
	now = now.UTC()
	rec.PK = dayPK(now)
	rec.SK = callSK(now, rec.RequestID)
	rec.CreatedAt = now.Format(time.RFC3339)
	rec.TTL = now.Add(ttlDuration).Unix()
	return rec
}

// RecordFollowup persists rec. Existing items are never overwritten.
func (l *UsageLedger) RecordFollowup(ctx context.Context, rec domain.FollowupRecord) error {
	rec = NewFollowupRecord(rec, l.now())
	_, err := l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                recordItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordFollowup: %w", err)
	}
	return nil
}

func recordItem(rec domain.FollowupRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: rec.PK},
		"SK":             &types.AttributeValueMemberS{Value: rec.SK},
		"requestId":      &types.AttributeValueMemberS{Value: rec.RequestID},
		"model":          &types.AttributeValueMemberS{Value: rec.Model},
		"outcome":        &types.AttributeValueMemberS{Value: rec.Outcome},
		"historyTurns":   numAttr(int64(rec.HistoryTurns)),
		"hasInstruction": &types.AttributeValueMemberBOOL{Value: rec.HasInstruction},
		"hasDocument":    &types.AttributeValueMemberBOOL{Value: rec.HasDocument},
		"questionChars":  numAttr(int64(rec.QuestionChars)),
		"answerChars":    numAttr(int64(rec.AnswerChars)),
		"latencyMs":      numAttr(rec.Latency.Milliseconds()),
		"createdAt":      &types.AttributeValueMemberS{Value: rec.CreatedAt},
		"ttl":            numAttr(rec.TTL),
	}
}

func numAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}
