package store

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/models"
)

const (
	attrKey        = "pk"
	attrKind       = "kind"
	attrStatus     = "status"
	attrOwner      = "owner"
	attrCreatedAt  = "created_at"
	attrUpdatedAt  = "updated_at"
	attrExpiration = "expiration_time"
)

//go:generate mockgen -source dynamo.go -destination ./mock/dynamo.go

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItemWithContext(ctx aws.Context, input *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error)
	PutItemWithContext(ctx aws.Context, input *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error)
	DeleteItemWithContext(ctx aws.Context, input *dynamodb.DeleteItemInput, opts ...request.Option) (*dynamodb.DeleteItemOutput, error)
	DescribeTableWithContext(ctx aws.Context, input *dynamodb.DescribeTableInput, opts ...request.Option) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore keeps coordination records in a DynamoDB table whose partition
// key is the string attribute "pk". Store-native TTL may be enabled on
// expiration_time for garbage collection; reads never depend on it.
type DynamoStore struct {
	api   DynamoAPI
	table string
}

func NewDynamoStore(api DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{api: api, table: table}
}

func (d *DynamoStore) Get(ctx context.Context, key string) (models.Record, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	out, err := d.api.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.Record{}, classifyDynamo(err)
	}
	if len(out.Item) == 0 {
		return models.Record{}, ErrNotFound
	}
	return decodeItem(out.Item), nil
}

func (d *DynamoStore) PutIfAbsentOrExpired(ctx context.Context, rec models.Record, now time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := d.api.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                encodeItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(pk) OR expiration_time <= :now"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": numberAttr(now.Unix()),
		},
	})
	return classifyDynamo(err)
}

func (d *DynamoStore) Put(ctx context.Context, rec models.Record) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := d.api.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      encodeItem(rec),
	})
	return classifyDynamo(err)
}

func (d *DynamoStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := d.api.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       keyAttr(key),
	})
	return classifyDynamo(err)
}

func (d *DynamoStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := d.api.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.table),
	})
	return classifyDynamo(err)
}

func (d *DynamoStore) Close() error { return nil }

func keyAttr(key string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		attrKey: {S: aws.String(key)},
	}
}

func numberAttr(v int64) *dynamodb.AttributeValue {
	return &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(v, 10))}
}

func encodeItem(rec models.Record) map[string]*dynamodb.AttributeValue {
	item := map[string]*dynamodb.AttributeValue{
		attrKey:        {S: aws.String(rec.Key)},
		attrKind:       {S: aws.String(string(rec.Kind))},
		attrStatus:     {S: aws.String(rec.Status)},
		attrCreatedAt:  numberAttr(rec.CreatedAt),
		attrUpdatedAt:  numberAttr(rec.UpdatedAt),
		attrExpiration: numberAttr(rec.ExpirationTime),
	}
	// DynamoDB rejects empty string attributes on older tables.
	if rec.Owner != "" {
		item[attrOwner] = &dynamodb.AttributeValue{S: aws.String(rec.Owner)}
	}
	return item
}

func decodeItem(item map[string]*dynamodb.AttributeValue) models.Record {
	return models.Record{
		Key:            stringValue(item[attrKey]),
		Kind:           models.RecordKind(stringValue(item[attrKind])),
		Status:         stringValue(item[attrStatus]),
		Owner:          stringValue(item[attrOwner]),
		CreatedAt:      numberValue(item[attrCreatedAt]),
		UpdatedAt:      numberValue(item[attrUpdatedAt]),
		ExpirationTime: numberValue(item[attrExpiration]),
	}
}

func stringValue(v *dynamodb.AttributeValue) string {
	if v == nil {
		return ""
	}
	return aws.StringValue(v.S)
}

func numberValue(v *dynamodb.AttributeValue) int64 {
	if v == nil || v.N == nil {
		return 0
	}
	n, err := strconv.ParseInt(*v.N, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func classifyDynamo(err error) error {
	if err == nil {
		return nil
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case dynamodb.ErrCodeConditionalCheckFailedException:
			return ErrConflict
		case dynamodb.ErrCodeResourceNotFoundException:
			return errors.Wrap(ErrTableMissing, aerr.Message())
		case dynamodb.ErrCodeProvisionedThroughputExceededException,
			dynamodb.ErrCodeRequestLimitExceeded,
			dynamodb.ErrCodeInternalServerError,
			request.ErrCodeRequestError,
			request.CanceledErrorCode:
			return wrapUnavailable(err)
		}
		return errors.Wrap(err, "dynamodb")
	}
	return wrapUnavailable(err)
}
