package signer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var _ URLSigner = (*S3Signer)(nil)

// S3Signer generates presigned GET URLs for S3 and S3-compatible object
// storage using the AWS SDK v2.
type S3Signer struct {
	presignClient *s3.PresignClient
}

// S3Options configures the S3 client behind the signer. Endpoint is
// optional; set it (plus UsePathStyle) for S3-compatible providers.
type S3Options struct {
	Region       string
	KeyID        string
	Secret       string
	Endpoint     string
	UsePathStyle bool
}

// NewS3Signer builds a signer with static credentials.
func NewS3Signer(opts S3Options) (*S3Signer, error) {
	if opts.Region == "" || opts.KeyID == "" || opts.Secret == "" {
		return nil, fmt.Errorf("s3 signer config is incomplete")
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

	return &S3Signer{presignClient: s3.NewPresignClient(s3.New(s3Opts))}, nil
}

// SignGetURL implements URLSigner. path is a full s3:// (or s3a://) URI.
func (s *S3Signer) SignGetURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	bucket, key, err := parseS3Path(path)
	if err != nil {
		return "", err
	}

	result, err := s.presignClient.PresignGetObject(ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(expiry),
	)
	if err != nil {
		return "", fmt.Errorf("presign GetObject for %q: %w", path, err)
	}
	return result.URL, nil
}

// parseS3Path extracts bucket and key from an "s3://bucket/path/to/file"
// URI. The s3a:// scheme Hadoop writers leave in table metadata is
// accepted as an alias.
func parseS3Path(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", path, err)
	}
	if u.Scheme != "s3" && u.Scheme != "s3a" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("empty key in S3 path %q", path)
	}
	return bucket, key, nil
}
