package dynamodb

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/NoriginMedia/nannoq-tools-sub001/application/ports"
	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// DynamoDB accepts at most 25 requests per BatchWriteItem call
const batchLimit = 25

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the subset of the DynamoDB API the version store uses
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// VersionRecord represents how versions are stored in DynamoDB
type VersionRecord struct {
	PK            string `dynamodbav:"PK"` // VERSIONS#<key>
	SK            string `dynamodbav:"SK"` // VERSION#<created_at_nanos>#<version_id>
	VersionID     string `dynamodbav:"VersionID"`
	CorrelationID string `dynamodbav:"CorrelationID,omitempty"`
	CreatedAt     int64  `dynamodbav:"CreatedAt"`
	Modifications string `dynamodbav:"Modifications"`

	// TTL lets DynamoDB expire items on its own
	TTL int64 `dynamodbav:"TTL,omitempty"`
}

// VersionStore keeps version histories in a single DynamoDB table
type VersionStore struct {
	client    Client
	tableName string
	mu        sync.RWMutex
	policy    versioning.RetentionPolicy
	now       func() time.Time
	logger    *zap.Logger
}

// NewVersionStore creates a new DynamoDB version store
func NewVersionStore(client Client, tableName string, policy versioning.RetentionPolicy, logger *zap.Logger) *VersionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionStore{
		client:    client,
		tableName: tableName,
		policy:    policy,
		now:       time.Now,
		logger:    logger,
	}
}

// Every history partition key starts with partitionPrefix
const partitionPrefix = "VERSIONS#"

func partitionKey(key string) string {
	return partitionPrefix + key
}

func sortKey(v *versioning.Version, createdAt time.Time) string {
	return fmt.Sprintf("VERSION#%020d#%s", createdAt.UnixNano(), v.ID)
}

// SetPolicy replaces the retention policy
func (s *VersionStore) SetPolicy(policy versioning.RetentionPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = policy
}

func (s *VersionStore) currentPolicy() versioning.RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Append stores version at the end of the history of key and trims the
// history to MaxVersions.
func (s *VersionStore) Append(ctx context.Context, key string, version *versioning.Version) error {
	if key == "" {
		return errors.NewValidationError("history key cannot be empty")
	}
	if version == nil {
		return errors.NewValidationError("version cannot be nil")
	}

	policy := s.currentPolicy()
	record, err := s.toRecord(key, version, policy)
	if err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return errors.NewInternalError("failed to marshal version record").WithCause(err)
	}

	cond, err := expression.NewBuilder().
		WithCondition(expression.Name("SK").AttributeNotExists()).
		Build()
	if err != nil {
		return errors.NewInternalError("failed to build condition").WithCause(err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      item,
		ConditionExpression:       cond.Condition(),
		ExpressionAttributeNames:  cond.Names(),
		ExpressionAttributeValues: cond.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if stderrors.As(err, &ccf) {
			return errors.NewConflictError("version is already stored").WithPath(key)
		}
		return errors.NewInternalError("failed to put version").WithCause(err)
	}

	if policy.MaxVersions > 0 {
		return s.trim(ctx, key, policy.MaxVersions)
	}
	return nil
}

func (s *VersionStore) trim(ctx context.Context, key string, limit int) error {
	records, err := s.query(ctx, key, true)
	if err != nil {
		return err
	}
	if len(records) <= limit {
		return nil
	}

	dropped := records[:len(records)-limit]
	if err := s.deleteRecords(ctx, dropped); err != nil {
		return err
	}
	s.logger.Debug("Trimmed version history",
		zap.String("key", key),
		zap.Int("dropped", len(dropped)),
	)
	return nil
}

// List returns the history of key, oldest first
func (s *VersionStore) List(ctx context.Context, key string) ([]*versioning.Version, error) {
	if key == "" {
		return nil, errors.NewValidationError("history key cannot be empty")
	}

	records, err := s.query(ctx, key, false)
	if err != nil {
		return nil, err
	}

	history := make([]*versioning.Version, 0, len(records))
	for _, record := range records {
		v, err := fromRecord(record)
		if err != nil {
			return nil, err
		}
		history = append(history, v)
	}
	return history, nil
}

func (s *VersionStore) query(ctx context.Context, key string, keysOnly bool) ([]VersionRecord, error) {
	builder := expression.NewBuilder().
		WithKeyCondition(expression.Key("PK").Equal(expression.Value(partitionKey(key))))
	if keysOnly {
		builder = builder.WithProjection(expression.NamesList(expression.Name("PK"), expression.Name("SK")))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, errors.NewInternalError("failed to build query").WithCause(err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}

	var records []VersionRecord
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, errors.NewInternalError("failed to query versions").WithCause(err)
		}

		page := make([]VersionRecord, 0, len(result.Items))
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, errors.NewInternalError("failed to unmarshal version records").WithCause(err)
		}
		records = append(records, page...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return records, nil
}

// Prune removes every version older than the retention period
func (s *VersionStore) Prune(ctx context.Context, now time.Time) (int, error) {
	policy := s.currentPolicy()
	if policy.RetentionPeriod <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-policy.RetentionPeriod).UnixNano()

	expr, err := expression.NewBuilder().
		WithFilter(expression.Name("PK").BeginsWith(partitionPrefix).
			And(expression.Name("CreatedAt").LessThan(expression.Value(cutoff)))).
		WithProjection(expression.NamesList(expression.Name("PK"), expression.Name("SK"), expression.Name("CreatedAt"))).
		Build()
	if err != nil {
		return 0, errors.NewInternalError("failed to build scan").WithCause(err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var expired []VersionRecord
	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return 0, errors.NewInternalError("failed to scan versions").WithCause(err)
		}

		var page []VersionRecord
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return 0, errors.NewInternalError("failed to unmarshal version records").WithCause(err)
		}
		for _, record := range page {
			if strings.HasPrefix(record.PK, partitionPrefix) && record.CreatedAt < cutoff {
				expired = append(expired, record)
			}
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	if err := s.deleteRecords(ctx, expired); err != nil {
		return 0, err
	}
	if len(expired) > 0 {
		s.logger.Info("Pruned expired versions", zap.Int("removed", len(expired)))
	}
	return len(expired), nil
}

func (s *VersionStore) deleteRecords(ctx context.Context, records []VersionRecord) error {
	for i := 0; i < len(records); i += batchLimit {
		end := min(i+batchLimit, len(records))

		requests := make([]types.WriteRequest, 0, end-i)
		for _, record := range records[i:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: record.PK},
						"SK": &types.AttributeValueMemberS{Value: record.SK},
					},
				},
			})
		}

		result, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
		})
		if err != nil {
			return errors.NewInternalError("failed to delete versions").WithCause(err)
		}
		if n := len(result.UnprocessedItems[s.tableName]); n > 0 {
			return errors.NewInternalError(fmt.Sprintf("failed to delete %d versions", n))
		}
	}
	return nil
}

func (s *VersionStore) toRecord(key string, v *versioning.Version, policy versioning.RetentionPolicy) (VersionRecord, error) {
	mods, err := json.MarshalToString(v.ObjectModificationMap)
	if err != nil {
		return VersionRecord{}, errors.NewInternalError("failed to encode modifications").WithCause(err)
	}

	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	record := VersionRecord{
		PK:            partitionKey(key),
		SK:            sortKey(v, createdAt),
		VersionID:     v.ID,
		CorrelationID: v.CorrelationID,
		CreatedAt:     createdAt.UnixNano(),
		Modifications: mods,
	}
	if policy.RetentionPeriod > 0 {
		record.TTL = createdAt.Add(policy.RetentionPeriod).Unix()
	}
	return record, nil
}

func fromRecord(record VersionRecord) (*versioning.Version, error) {
	v := &versioning.Version{
		ID:            record.VersionID,
		CorrelationID: record.CorrelationID,
		CreatedAt:     time.Unix(0, record.CreatedAt).UTC(),
	}
	if err := json.UnmarshalFromString(record.Modifications, &v.ObjectModificationMap); err != nil {
		return nil, errors.NewReconstructionError("failed to decode modifications", err).WithPath(record.SK)
	}
	return v, nil
}

var _ ports.RetentionAwareVersionStore = (*VersionStore)(nil)
