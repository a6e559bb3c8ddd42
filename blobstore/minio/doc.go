// Package minio provides a blobstore.Store on top of the MinIO client.
//
// It works with MinIO and other S3-compatible services (Ceph, Garage,
// SeaweedFS) and needs no AWS configuration:
//
//	store, err := minio.Dial(ctx, "localhost:9000", "minioadmin", "minioadmin",
//	    "tsearch", "checkpoints/", false)
package minio
