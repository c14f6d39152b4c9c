package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lethedb/lethe/blobstore"
)

// Compile-time check
var _ blobstore.BlobStore = (*CommitStore)(nil)

// currentName is the pointer blob naming the latest committed snapshot.
const currentName = "CURRENT"

// ErrConcurrentModification is returned when a concurrent snapshot commit
// is detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the interface for the DynamoDB operations the commit store
// uses. *dynamodb.Client satisfies it.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore wraps a blob store with DynamoDB-backed commits for the
// CURRENT pointer, enabling safe concurrent snapshot publishers.
//
// S3 writes are last-writer-wins, so two publishers racing on CURRENT could
// silently drop a snapshot. The commit store routes CURRENT through a
// DynamoDB conditional write instead: each commit claims the next version of
// a monotonically increasing counter, and a claim on an already-taken
// version fails with ErrConcurrentModification. All other blobs pass through
// to the wrapped store unchanged.
//
// Table schema:
//   - Partition key: base_uri (string) - the store's S3 prefix/path
//   - Sort key: version (number) - monotonically increasing version
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name lethe-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	inner     blobstore.BlobStore
	ddb       DDBClient
	tableName string
	baseURI   string // partition key, e.g. "s3://bucket/prefix"
}

// NewCommitStore creates a commit store around inner, typically an S3 Store.
// baseURI is the partition key shared by all writers of one index, in
// "s3://bucket/prefix" form.
func NewCommitStore(inner blobstore.BlobStore, ddb DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{
		inner:     inner,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Put writes a blob. For CURRENT, the write becomes a DynamoDB conditional
// commit; concurrent commits of the same version fail with
// ErrConcurrentModification.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == currentName {
		return s.commitVersion(ctx, string(data))
	}
	return s.inner.Put(ctx, name, data)
}

// Get returns the content of a blob. For CURRENT, the latest committed
// version is read from DynamoDB.
func (s *CommitStore) Get(ctx context.Context, name string) ([]byte, error) {
	if name == currentName {
		version, snapshotPath, err := s.latestVersion(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return []byte(snapshotPath), nil
	}
	return s.inner.Get(ctx, name)
}

// Delete removes a blob from the wrapped store. Commit history in DynamoDB
// is retained.
func (s *CommitStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

// List lists blobs in the wrapped store.
func (s *CommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// latestVersion queries DynamoDB for the newest committed version.
// Version 0 with no error means nothing has been committed yet.
func (s *CommitStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit table: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in commit table")
	}
	pathAttr, ok := item["snapshot_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid snapshot_path attribute in commit table")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse version: %w", err)
	}

	return version, pathAttr.Value, nil
}

// commitVersion atomically claims the next version for snapshotPath using a
// DynamoDB conditional write.
func (s *CommitStore) commitVersion(ctx context.Context, snapshotPath string) error {
	current, _, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}
	next := current + 1

	// Conditional put: only succeed if this version doesn't exist yet.
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: s.baseURI},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"snapshot_path": &types.AttributeValueMemberS{Value: snapshotPath},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit version: %w", err)
	}

	return nil
}
