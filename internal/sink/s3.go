package sink

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
)

// S3Options configures an S3-compatible object store.
type S3Options struct {
	Endpoint        string // host[:port] or URL; an https:// scheme enables TLS
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	Prefix          string // optional key prefix inside the bucket
	UseSSL          bool
}

// S3Store keeps snapshots in an S3-compatible bucket (AWS S3, MinIO).
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store builds a minio client for opts.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Endpoint == "" {
		return nil, eris.New("sink: s3 endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, eris.New("sink: s3 bucket is required")
	}
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return nil, eris.New("sink: s3 credentials are required")
	}

	endpoint := opts.Endpoint
	secure := opts.UseSSL
	if u, err := url.Parse(opts.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			secure = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sink: create s3 client")
	}
	return &S3Store{client: client, bucket: opts.Bucket, prefix: trimPrefix(opts.Prefix)}, nil
}

func trimPrefix(p string) string {
	p = strings.TrimLeft(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// EnsureBucket creates the bucket when it does not exist.
func (s *S3Store) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return eris.Wrapf(err, "sink: check bucket %s", s.bucket)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return eris.Wrapf(err, "sink: create bucket %s", s.bucket)
	}
	return nil
}

// Put uploads data in a single PUT.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.prefix+key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return eris.Wrapf(err, "sink: put s3://%s/%s%s", s.bucket, s.prefix, key)
}

// Get downloads the object at key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.prefix+key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.getError(key, err)
	}
	defer obj.Close() //nolint:errcheck

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.getError(key, err)
	}
	return data, nil
}

func (s *S3Store) getError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return eris.Wrapf(ErrNotFound, "sink: get %s", key)
	}
	return eris.Wrapf(err, "sink: get s3://%s/%s%s", s.bucket, s.prefix, key)
}

// List returns keys under prefix with the store prefix removed.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix + prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, eris.Wrapf(obj.Err, "sink: list s3://%s/%s%s", s.bucket, s.prefix, prefix)
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, s.prefix))
	}
	return keys, nil
}
