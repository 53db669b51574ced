package deltalog

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var _ ObjectStore = (*S3Store)(nil)

// S3Store reads transaction logs from S3 or S3-compatible object storage.
type S3Store struct {
	client *s3.Client
}

// S3StoreOptions configures the S3 client. Endpoint is optional; set it
// (plus UsePathStyle) for S3-compatible providers.
type S3StoreOptions struct {
	Region       string
	KeyID        string
	Secret       string
	Endpoint     string
	UsePathStyle bool
}

// NewS3Store builds a store with static credentials.
func NewS3Store(opts S3StoreOptions) (*S3Store, error) {
	if opts.Region == "" || opts.KeyID == "" || opts.Secret == "" {
		return nil, fmt.Errorf("s3 store config is incomplete")
	}

	s3Opts := s3.Options{
		Region: opts.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			opts.KeyID, opts.Secret, "",
		),
		UsePathStyle: opts.UsePathStyle,
	}
	if opts.Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String("https://" + opts.Endpoint)
	}

	return &S3Store{client: s3.New(s3Opts)}, nil
}

// List implements ObjectStore. It returns the object names directly under
// prefix, following continuation tokens until the listing is exhausted.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := splitS3URI(prefix)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	var names []string
	var continuation *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(key),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			names = append(names, strings.TrimPrefix(*obj.Key, key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}
	return names, nil
}

// Get implements ObjectStore.
func (s *S3Store) Get(ctx context.Context, path string) ([]byte, error) {
	bucket, key, err := splitS3URI(path)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", path, err)
	}
	defer out.Body.Close() //nolint:errcheck

	return io.ReadAll(out.Body)
}

func splitS3URI(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", path, err)
	}
	if u.Scheme != "s3" && u.Scheme != "s3a" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, path)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
