// Package media hands out presigned S3 upload URLs for match imagery.
package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Sentinel kinds for media errors.
var (
	ErrNotConfigured   = errors.New("media uploads are not configured")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrInvalidFileName = errors.New("invalid file name")
)

var allowedContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

// Presigner is the subset of the S3 presign client used here.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Upload is a presigned upload target.
type Upload struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Uploader presigns PUT requests into one bucket.
type Uploader struct {
	presigner Presigner
	bucket    string
	ttl       time.Duration
	now       func() time.Time
}

// New creates an Uploader over an existing presigner.
func New(presigner Presigner, bucket string, ttl time.Duration) *Uploader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Uploader{presigner: presigner, bucket: bucket, ttl: ttl, now: time.Now}
}

// NewFromConfig loads the default AWS configuration for region.
func NewFromConfig(ctx context.Context, region, bucket string, ttl time.Duration) (*Uploader, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, ErrNotConfigured
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(s3.NewPresignClient(s3.NewFromConfig(cfg)), bucket, ttl), nil
}

// PresignImage returns an upload URL for an image attached to matchID.
func (u *Uploader) PresignImage(ctx context.Context, matchID, fileName, contentType string) (Upload, error) {
	if u == nil || u.presigner == nil {
		return Upload{}, ErrNotConfigured
	}
	if !allowed(contentType) {
		return Upload{}, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	base := path.Base(strings.TrimSpace(fileName))
	if base == "" || base == "." || base == "/" {
		return Upload{}, ErrInvalidFileName
	}

	key := path.Join("matches", matchID, uuid.NewString()+"-"+base)
	req, err := u.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(u.ttl))
	if err != nil {
		return Upload{}, fmt.Errorf("presign upload: %w", err)
	}
	return Upload{
		URL:       req.URL,
		Method:    req.Method,
		Key:       key,
		ExpiresAt: u.now().Add(u.ttl),
	}, nil
}

func allowed(contentType string) bool {
	for _, ct := range allowedContentTypes {
		if strings.EqualFold(ct, contentType) {
			return true
		}
	}
	return false
}
