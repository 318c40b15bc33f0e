// Package dynamo 以 DynamoDB 條件寫入實作觀看帳本.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"snap-gateway/internal/snap"
)

const (
	pkPrefix = "MSG#"
	skPrefix = "VIEWER#"

	condFirstView = "attribute_not_exists(PK)"
	condReplay    = "attribute_exists(PK) AND replay_count < :max"
	updateReplay  = "SET replay_count = replay_count + :one, last_viewing_started_at = :now, updated_at = :now"
)

// dynamodbAPI 帳本所需的最小 DynamoDB 介面，*dynamodb.Client 即滿足.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Ledger 每個 (message, viewer) 一個 item，PK=MSG#id、SK=VIEWER#id.
type Ledger struct {
	api       dynamodbAPI
	tableName string
}

// New 建立帳本.
func New(api dynamodbAPI, tableName string) (*Ledger, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Ledger{api: api, tableName: tableName}, nil
}

func itemKey(key snap.ViewKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + key.MessageID},
		"SK": &types.AttributeValueMemberS{Value: skPrefix + key.ViewerID},
	}
}

// GetRecord 以強一致讀取帳本紀錄.
func (l *Ledger) GetRecord(ctx context.Context, key snap.ViewKey) (*snap.ViewRecord, error) {
	out, err := l.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.tableName),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: GetRecord: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, snap.ErrRecordNotFound
	}
	return itemToRecord(out.Item)
}

// BeginFirstView 以 attribute_not_exists 條件寫入；條件失敗時回傳既有紀錄.
func (l *Ledger) BeginFirstView(ctx context.Context, key snap.ViewKey, now time.Time) (*snap.ViewRecord, bool, error) {
	rec := snap.NewFirstView(key, now)
	_, err := l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(l.tableName),
		Item:                                recordItem(rec),
		ConditionExpression:                 aws.String(condFirstView),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return rec, true, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return nil, false, fmt.Errorf("dynamo: BeginFirstView: %w", err)
	}
	if len(ccf.Item) > 0 {
		existing, err := itemToRecord(ccf.Item)
		return existing, false, err
	}
	existing, err := l.GetRecord(ctx, key)
	return existing, false, err
}

// ConsumeReplay 以 replay_count < :max 條件更新完成比較並遞增.
func (l *Ledger) ConsumeReplay(ctx context.Context, key snap.ViewKey, maxReplays int, now time.Time) (*snap.ViewRecord, error) {
	ts := now.UTC().Format(time.RFC3339Nano)
	out, err := l.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(l.tableName),
		Key:                 itemKey(key),
		ConditionExpression: aws.String(condReplay),
		UpdateExpression:    aws.String(updateReplay),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":max": &types.AttributeValueMemberN{Value: strconv.Itoa(maxReplays)},
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": &types.AttributeValueMemberS{Value: ts},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return itemToRecord(out.Attributes)
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return nil, fmt.Errorf("dynamo: ConsumeReplay: %w", err)
	}
	// 條件失敗時 ALL_OLD 為空代表紀錄不存在
	if len(ccf.Item) == 0 {
		return nil, snap.ErrRecordNotFound
	}
	return nil, snap.ErrReplayBudgetExhausted
}

func recordItem(rec *snap.ViewRecord) map[string]types.AttributeValue {
	item := itemKey(rec.Key())
	item["message_id"] = &types.AttributeValueMemberS{Value: rec.MessageID}
	item["viewer_id"] = &types.AttributeValueMemberS{Value: rec.ViewerID}
	item["replay_count"] = &types.AttributeValueMemberN{Value: strconv.Itoa(rec.ReplayCount)}
	item["created_at"] = &types.AttributeValueMemberS{Value: formatTime(rec.CreatedAt)}
	item["updated_at"] = &types.AttributeValueMemberS{Value: formatTime(rec.UpdatedAt)}
	if rec.FirstViewedAt != nil {
		item["first_viewed_at"] = &types.AttributeValueMemberS{Value: formatTime(*rec.FirstViewedAt)}
	}
	if rec.LastViewingStartedAt != nil {
		item["last_viewing_started_at"] = &types.AttributeValueMemberS{Value: formatTime(*rec.LastViewingStartedAt)}
	}
	return item
}

func itemToRecord(item map[string]types.AttributeValue) (*snap.ViewRecord, error) {
	messageID, err := strAttr(item, "message_id")
	if err != nil {
		return nil, err
	}
	viewerID, err := strAttr(item, "viewer_id")
	if err != nil {
		return nil, err
	}
	count, err := intAttr(item, "replay_count")
	if err != nil {
		return nil, err
	}

	rec := &snap.ViewRecord{MessageID: messageID, ViewerID: viewerID, ReplayCount: count}
	if rec.CreatedAt, err = timeAttr(item, "created_at"); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = timeAttr(item, "updated_at"); err != nil {
		return nil, err
	}
	if rec.FirstViewedAt, err = optionalTimeAttr(item, "first_viewed_at"); err != nil {
		return nil, err
	}
	if rec.LastViewingStartedAt, err = optionalTimeAttr(item, "last_viewing_started_at"); err != nil {
		return nil, err
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamo: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamo: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("dynamo: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamo: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("dynamo: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("dynamo: parse attribute %q: %w", key, err)
	}
	return t.UTC(), nil
}

func optionalTimeAttr(item map[string]types.AttributeValue, key string) (*time.Time, error) {
	if _, ok := item[key]; !ok {
		return nil, nil
	}
	t, err := timeAttr(item, key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
