// Package s3blob stores ledger snapshots in S3 or an S3-compatible object
// store (MinIO, R2, iDrive e2).
package s3blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig selects the bucket and, for non-AWS providers, the endpoint.
type ClientConfig struct {
	Endpoint  string // empty for AWS
	Region    string
	Bucket    string
	Prefix    string // prepended to every key
	AccessKey string // empty uses the default AWS credential chain
	SecretKey string
	UseSSL    bool // scheme for an Endpoint given without one
	// ForcePathStyle puts the bucket in the path. Most S3-compatible
	// providers need it.
	ForcePathStyle bool
}

// Client holds the SDK client, the bucket and the key prefix.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New builds a Client. It does not touch the network; call Health for that.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
		prefix: cleanPrefix(cfg.Prefix),
	}, nil
}

// Health checks the bucket is reachable with the configured credentials.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) Bucket() string { return c.bucket }

// key maps a logical path to the object key.
func (c *Client) key(path string) string {
	return c.prefix + strings.TrimLeft(path, "/")
}

// path is the inverse of key.
func (c *Client) path(key string) string {
	return strings.TrimPrefix(key, c.prefix)
}

func cleanPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// endpointURL adds a scheme to endpoint when it has none.
func endpointURL(endpoint string, useSSL bool) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
