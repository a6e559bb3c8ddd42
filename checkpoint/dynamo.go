package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/tsearch/codec"
)

// DDBClient is the subset of the DynamoDB API used by DynamoStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps states as a version log in DynamoDB. Every Save writes a
// new (name, version) item with a conditional put, so two runs sharing a name
// cannot both advance the same version.
//
// Table schema:
//   - Partition key: name (string)
//   - Sort key: version (number)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name tsearch-checkpoints \
//	  --attribute-definitions AttributeName=name,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=name,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DynamoStore struct {
	client    DDBClient
	tableName string
	codec     codec.Codec
	// Keep bounds how many old versions survive a Save. Zero keeps all.
	Keep int
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a store on tableName.
func NewDynamoStore(client DDBClient, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		codec:     codec.Compressed(codec.Default, codec.CompressionZSTD),
		Keep:      2,
	}
}

func (s *DynamoStore) versions(ctx context.Context, name string, limit int32) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#n = :name"),
		ExpressionAttributeNames: map[string]string{
			"#n": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	var items []map[string]types.AttributeValue
	for {
		resp, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: query DynamoDB: %w", err)
		}
		items = append(items, resp.Items...)
		if limit > 0 || len(resp.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}

func itemVersion(item map[string]types.AttributeValue) (uint64, error) {
	attr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("checkpoint: invalid version attribute in DynamoDB")
	}
	v, err := strconv.ParseUint(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: parse version: %w", err)
	}
	return v, nil
}

func (s *DynamoStore) Load(ctx context.Context, name string) (*State, error) {
	items, err := s.versions(ctx, name, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}

	payload, ok := items[0]["payload"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, errors.New("checkpoint: invalid payload attribute in DynamoDB")
	}
	var st State
	if err := s.codec.Unmarshal(payload.Value, &st); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", name, err)
	}
	v, err := itemVersion(items[0])
	if err != nil {
		return nil, err
	}
	st.Version = v
	return &st, nil
}

func (s *DynamoStore) Save(ctx context.Context, name string, st *State) error {
	items, err := s.versions(ctx, name, 1)
	if err != nil {
		return err
	}
	var current uint64
	if len(items) > 0 {
		if current, err = itemVersion(items[0]); err != nil {
			return err
		}
	}
	if current != st.Version {
		return ErrConcurrentModification
	}

	next := st.Clone()
	next.Version = current + 1
	next.UpdatedAt = time.Now().UTC()
	payload, err := s.codec.Marshal(next)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", name, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"name":       &types.AttributeValueMemberS{Value: name},
			"version":    &types.AttributeValueMemberN{Value: strconv.FormatUint(next.Version, 10)},
			"payload":    &types.AttributeValueMemberB{Value: payload},
			"updated_at": &types.AttributeValueMemberS{Value: next.UpdatedAt.Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("checkpoint: commit version to DynamoDB: %w", err)
	}
	st.Version, st.UpdatedAt = next.Version, next.UpdatedAt

	if s.Keep > 0 && next.Version > uint64(s.Keep) {
		return s.prune(ctx, name, next.Version-uint64(s.Keep))
	}
	return nil
}

// prune removes versions up to and including upTo.
func (s *DynamoStore) prune(ctx context.Context, name string, upTo uint64) error {
	items, err := s.versions(ctx, name, 0)
	if err != nil {
		return err
	}
	for _, item := range items {
		v, err := itemVersion(item)
		if err != nil {
			return err
		}
		if v > upTo {
			continue
		}
		if err := s.deleteVersion(ctx, name, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStore) deleteVersion(ctx context.Context, name string, v uint64) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"name":    &types.AttributeValueMemberS{Value: name},
			"version": &types.AttributeValueMemberN{Value: strconv.FormatUint(v, 10)},
		},
	})
	return err
}

func (s *DynamoStore) Delete(ctx context.Context, name string) error {
	items, err := s.versions(ctx, name, 0)
	if err != nil {
		return err
	}
	for _, item := range items {
		v, err := itemVersion(item)
		if err != nil {
			return err
		}
		if err := s.deleteVersion(ctx, name, v); err != nil {
			return err
		}
	}
	return nil
}
