// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config configures an S3 backend.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every generated key, e.g. "coldvault/archives/".
	Prefix string
	Region string

	// AccessKeyID/SecretAccessKey are optional static credentials. When
	// empty, the backend falls back to the SDK's default credential chain
	// (environment, shared config, instance role, ...).
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint overrides the default S3 endpoint, for S3-compatible
	// object stores (MinIO, R2, ...).
	Endpoint string
}

// S3 is an objectstore.Transport backed by an S3 bucket.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds an S3 backend from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3) objectKey() Key {
	return Key(s.prefix + uuid.New().String())
}

// Upload puts archive's content under a fresh key.
func (s *S3) Upload(ctx context.Context, archive io.Reader) (Key, error) {
	key := s.objectKey()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(key)),
		Body:   archive,
	})
	if err != nil {
		return "", fmt.Errorf("objectstore: s3 put %q: %w", key, err)
	}
	return key, nil
}

// Download fetches the object stored under key.
func (s *S3) Download(ctx context.Context, key Key) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: s3 get %q: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes the object stored under key.
func (s *S3) Delete(ctx context.Context, key Key) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(key)),
	})
	if err != nil {
		return fmt.Errorf("objectstore: s3 delete %q: %w", key, err)
	}
	return nil
}
