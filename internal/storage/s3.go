package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/imagetext/internal/config"
)

// Client wraps S3 access for image inputs (s3:// job references) and for
// persisting generated images. When a store password is configured, objects
// are wrapped in an AES-GCM envelope at rest.
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
	password string
}

// NewClient builds an S3 client from the storage config. An explicit
// endpoint plus static keys selects an S3-compatible store; otherwise the
// default AWS credential chain applies.
func NewClient(ctx context.Context, sc config.StorageConfig) (*Client, error) {
	var opts []func(*awscfg.LoadOptions) error
	if sc.Region != "" {
		opts = append(opts, awscfg.WithRegion(sc.Region))
	}
	if sc.AccessKey != "" && sc.SecretKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKey, sc.SecretKey, "")))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3:       cli,
		uploader: manager.NewUploader(cli),
		bucket:   sc.Bucket,
		password: sc.StorePassword,
	}, nil
}

// ParseRef splits an s3://bucket/key reference. An empty bucket means the
// configured default.
func ParseRef(ref string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(ref, "s3://") {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, "s3://")
	i := strings.IndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Fetch downloads an object, unwrapping the encryption envelope when
// present.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, ok := ParseRef(ref)
	if !ok {
		return nil, fmt.Errorf("not an s3 reference: %q", ref)
	}
	if bucket == "" {
		bucket = c.bucket
	}

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object: %w", err)
	}

	if isEnvelope(data) {
		if c.password == "" {
			return nil, fmt.Errorf("object %s/%s is encrypted but no store password is configured", bucket, key)
		}
		data, err = decryptGCM(data, c.password)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s/%s: %w", bucket, key, err)
		}
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(data)).Msg("fetched object from s3")
	return data, nil
}

// Save uploads data under the given key, applying the encryption envelope
// when a store password is configured. Returns the s3:// reference.
func (c *Client) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	body := data
	if c.password != "" {
		var err error
		body, err = encryptGCM(data, c.password)
		if err != nil {
			return "", fmt.Errorf("encrypt %s: %w", key, err)
		}
		contentType = "application/octet-stream"
	}

	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}

	ref := fmt.Sprintf("s3://%s/%s", c.bucket, key)
	log.Debug().Str("ref", ref).Int("size", len(data)).Bool("encrypted", c.password != "").Msg("saved object to s3")
	return ref, nil
}
