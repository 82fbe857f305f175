package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
)

// DefaultRegion is used when neither the target nor the environment
// names one.
const DefaultRegion = "us-east-1"

// S3Options configures NewS3Client.
type S3Options struct {
	Region          string `envconfig:"AWS_REGION"`
	AccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `envconfig:"AWS_SESSION_TOKEN"`

	// Endpoint overrides the S3 endpoint (MinIO, R2, localstack).
	Endpoint string `envconfig:"PHOTON_S3_ENDPOINT"`
	// PathStyle addresses buckets as endpoint/bucket/key.
	PathStyle bool `envconfig:"PHOTON_S3_PATH_STYLE"`
}

// S3OptionsFromEnv reads S3Options from the environment.
func S3OptionsFromEnv() (S3Options, error) {
	var opts S3Options
	if err := envconfig.Process("", &opts); err != nil {
		return opts, err
	}
	return opts, nil
}

// NewS3Client builds a client with static credentials. Without an access
// key the requests are anonymous.
func NewS3Client(opts S3Options) *s3.Client {
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}

	var creds aws.CredentialsProvider = aws.AnonymousCredentials{}
	if opts.AccessKeyID != "" {
		static := aws.Credentials{
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			SessionToken:    opts.SessionToken,
			Source:          "photon",
		}
		creds = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return static, nil
		}))
	}

	return s3.New(s3.Options{
		Region:       opts.Region,
		Credentials:  creds,
		UsePathStyle: opts.PathStyle,
		BaseEndpoint: optionalString(opts.Endpoint),
	})
}

// PutObjectAPI is the part of *s3.Client the store needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store stores files in a bucket under a key prefix.
type S3Store struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Store creates a store writing to bucket under prefix.
func NewS3Store(client PutObjectAPI, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads body. The body is buffered so the SDK can sign and retry it.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return fmt.Errorf("artifacts: read %s: %w", key, err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(key)),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"publish-time": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("artifacts: s3 upload of %s failed: %w", s.Location(key), err)
	}
	return nil
}

// Location returns the s3:// url of key.
func (s *S3Store) Location(key string) string {
	return "s3://" + s.bucket + "/" + s.key(key)
}

func (s *S3Store) key(key string) string {
	if s.prefix == "" {
		return path.Clean(key)
	}
	return path.Join(s.prefix, key)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
