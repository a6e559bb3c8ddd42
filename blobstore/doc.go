// Package blobstore stores small named blobs, such as reindex checkpoints,
// on local disk, in memory or in an object store.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests
//   - LocalStore: files below a directory, atomic rename under an advisory lock
//   - s3.Store: Amazon S3 (aws-sdk-go-v2)
//   - minio.Store: MinIO and other S3-compatible services
//
// All implementations report missing blobs with an error matching ErrNotFound.
package blobstore
