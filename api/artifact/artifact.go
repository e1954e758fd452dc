package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	constants "multisource-digest/api/constants"
)

const uploadTimeout = 3 * time.Minute

// ObjectPutter is the subset of the S3 client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket    string
	Endpoint  string
	PublicURL string
	Region    string
	Prefix    string
}

// Uploader publishes generated files to an S3-compatible bucket (R2 in
// production) and returns their public URL.
type Uploader struct {
	client    ObjectPutter
	bucket    string
	publicURL string
	prefix    string
}

// New builds an uploader from the default AWS credential chain. A custom
// endpoint switches to path-style addressing.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("artifact: bucket must not be empty")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg)
}

func NewWithClient(client ObjectPutter, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("artifact: client must not be nil")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("artifact: bucket must not be empty")
	}
	return &Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Upload stores the file at path under its base name and returns where it
// can be fetched from.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("artifact: read %s: %w", path, err)
	}
	key := filepath.Base(path)
	if u.prefix != "" {
		key = u.prefix + "/" + key
	}

	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	contentType := ContentType(path)
	constants.Logger.Info("Uploading artifact", "key", key, "size", len(data))
	_, err = u.client.PutObject(uploadCtx, &s3.PutObjectInput{
		Bucket:       aws.String(u.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=86400"),
		ACL:          types.ObjectCannedACLPublicRead,
		Metadata: map[string]string{
			"generated-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("artifact: upload timed out or was canceled: %w", err)
		}
		return "", fmt.Errorf("artifact: upload %s: %w", key, err)
	}

	constants.Logger.Info("Uploaded artifact", "key", key, "size", len(data))
	if u.publicURL == "" {
		return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
	}
	return u.publicURL + "/" + key, nil
}

func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".png":
		return "image/png"
	case ".dot":
		return "text/vnd.graphviz"
	default:
		return "application/octet-stream"
	}
}
