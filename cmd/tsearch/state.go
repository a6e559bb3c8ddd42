package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/hupe1980/tsearch/blobstore"
	"github.com/hupe1980/tsearch/blobstore/minio"
	"github.com/hupe1980/tsearch/blobstore/s3"
	"github.com/hupe1980/tsearch/checkpoint"
	"github.com/hupe1980/tsearch/codec"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openState opens the checkpoint store named by uri:
//
//	path/to/state.db                 SQLite file
//	file:///var/lib/tsearch          one blob per run in a directory
//	s3://bucket/prefix               S3 blobs
//	minio://host:9000/bucket/prefix  MinIO blobs, credentials from MINIO_ACCESS_KEY and MINIO_SECRET_KEY
//	dynamodb://table                 DynamoDB version log
func openState(ctx context.Context, uri, compression string) (checkpoint.Store, io.Closer, error) {
	if uri == "" {
		return checkpoint.Nop{}, nopCloser{}, nil
	}
	ct, ok := codec.ParseCompression(compression)
	if !ok {
		return nil, nil, fmt.Errorf("unknown state compression %q", compression)
	}
	blobCodec := codec.Compressed(codec.Default, ct)

	if !strings.Contains(uri, "://") {
		st, err := checkpoint.OpenSQLite(ctx, uri)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("state %q: %w", uri, err)
	}
	prefix := strings.Trim(u.Path, "/")

	switch u.Scheme {
	case "file":
		return checkpoint.NewBlobStore(blobstore.NewLocalStore(u.Path), blobCodec), nopCloser{}, nil
	case "s3":
		opts := []s3.Option{s3.WithPrefix(prefix)}
		if region := u.Query().Get("region"); region != "" {
			opts = append(opts, s3.WithRegion(region))
		}
		if endpoint := u.Query().Get("endpoint"); endpoint != "" {
			opts = append(opts, s3.WithEndpoint(endpoint))
		}
		blobs, err := s3.New(ctx, u.Host, opts...)
		if err != nil {
			return nil, nil, err
		}
		return checkpoint.NewBlobStore(blobs, blobCodec), nopCloser{}, nil
	case "minio":
		bucket, rest, _ := strings.Cut(prefix, "/")
		if bucket == "" {
			return nil, nil, fmt.Errorf("state %q: missing bucket", uri)
		}
		blobs, err := minio.Dial(ctx, u.Host, os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"),
			bucket, rest, u.Query().Get("secure") == "true")
		if err != nil {
			return nil, nil, err
		}
		return checkpoint.NewBlobStore(blobs, blobCodec), nopCloser{}, nil
	case "dynamodb":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		return checkpoint.NewDynamoStore(dynamodb.NewFromConfig(cfg), u.Host), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("state %q: unsupported scheme %q", uri, u.Scheme)
	}
}
