package probe

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3 probes s3://bucket/key frame URLs written by render workers that store
// frames in object storage.
type S3 struct {
	client *minio.Client
}

func NewS3(cfg S3Config) (*S3, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3{client: client}, nil
}

func (p *S3) Test(ctx context.Context, rawURL string) bool {
	bucket, key, err := splitObjectURL(rawURL)
	if err != nil {
		log.Printf("probe: %v", err)
		return false
	}
	obj, err := p.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		log.Printf("probe: get %s: %v", rawURL, err)
		return false
	}
	defer obj.Close()
	format, ok := decodes(io.LimitReader(obj, headerLimit))
	if !ok {
		log.Printf("probe: %s is not a decodable image (format=%q)", rawURL, format)
	}
	return ok
}

func splitObjectURL(rawURL string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", fmt.Errorf("invalid object url %q: %w", rawURL, err)
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return "", "", fmt.Errorf("object url %q: scheme must be s3", rawURL)
	}
	bucket := strings.TrimSpace(u.Host)
	key := strings.TrimLeft(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("object url %q: bucket and key are required", rawURL)
	}
	return bucket, key, nil
}
