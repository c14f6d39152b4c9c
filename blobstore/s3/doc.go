// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.NewFromDefaultConfig(ctx, "my-bucket", "docs/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Snapshot blobs can grow large; puts stream through the SDK upload manager
// so they switch to multipart uploads automatically. Listing paginates.
//
// S3 alone cannot compare-and-swap the CURRENT pointer. Wrap the store in a
// CommitStore to route CURRENT updates through DynamoDB conditional writes
// when multiple writers publish against the same prefix.
package s3
