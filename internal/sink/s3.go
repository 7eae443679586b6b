// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sink ships a finished FLV file to S3-compatible object storage
// once the writer has committed it to its final path. Upload happens
// after the fact: a failed upload never unwinds a successful
// reconstruction, it is only reported to the caller.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Sink uploads completed FLV files to one bucket/prefix.
type S3Sink struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// Options configures NewS3Sink. Endpoint/AccessKeyID/SecretAccessKey are
// only needed for non-AWS S3-compatible endpoints; left empty, the SDK's
// default credential chain and AWS's regional endpoints apply.
type Options struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Sink builds an uploader bound to one bucket/prefix. When
// AccessKeyID/SecretAccessKey are set it uses a static credentials
// provider (the MinIO/S3-compatible path); otherwise it resolves
// credentials the default way (environment, shared config, or an
// EC2/ECS role, per the SDK's chain).
func NewS3Sink(ctx context.Context, opts Options) (*S3Sink, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Sink{
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

// Upload streams the FLV file at path to s3://bucket/prefix/<basename>.
// It is called once, after the muxer has renamed its temp file to its
// final output path — there is no retry at this layer; a failed upload is
// a warning to the caller, not a reason to undo a successful reconstruction.
func (s *S3Sink) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for upload: %w", path, err)
	}
	defer f.Close()

	key := filepath.ToSlash(filepath.Join(s.prefix, filepath.Base(path)))
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to s3://%s/%s: %w", path, s.bucket, key, err)
	}
	return key, nil
}
