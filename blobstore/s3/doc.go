// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("tsearch/checkpoints/"),
//	    s3.WithRegion("eu-west-1"),
//	)
//
//	states := checkpoint.NewBlobStore(store, codec.Default())
//
// Writes go through the S3 upload manager. Missing keys are reported as
// blobstore.ErrNotFound.
package s3
