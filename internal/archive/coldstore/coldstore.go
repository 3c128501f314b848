// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package coldstore offloads rotated (closed) archive segment files to S3
// on a timer (§4.5 "Cold storage offload"), modeled directly on the teacher
// repository's pkg/archive/parquet/target.go S3Target: a
// aws-sdk-go-v2/service/s3 client built once from static credentials or the
// default provider chain, used only to PutObject whole files. This is a
// backup path, not a read path: the recorder/replayer only ever reads the
// active local archive file, never back from S3.
package coldstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Config configures the S3-compatible target and which local directory of
// rotated segment files is watched.
type Config struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool

	// SegmentDir holds closed (no longer appended-to) archive segment
	// files; Uploader treats every regular file already present, plus any
	// that appear later, as eligible for upload exactly once.
	SegmentDir string
	// Interval between scans of SegmentDir. Zero disables the periodic
	// scan; Upload can still be called directly.
	Interval time.Duration
}

// Uploader periodically offloads closed segment files to S3.
type Uploader struct {
	cfg    Config
	client *s3.Client

	uploaded map[string]bool
}

// New builds an Uploader from cfg. It returns an error if the AWS config or
// credentials cannot be resolved; it does not contact S3 until Run or
// Upload is called.
func New(cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("coldstore: empty bucket name")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
			),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("coldstore: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Uploader{cfg: cfg, client: client, uploaded: map[string]bool{}}, nil
}

// Run scans cfg.SegmentDir every cfg.Interval until ctx is cancelled,
// uploading any file not yet uploaded. It returns immediately if Interval
// is zero.
func (u *Uploader) Run(ctx context.Context) {
	if u.cfg.Interval <= 0 {
		return
	}
	t := time.NewTicker(u.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := u.scanOnce(ctx); err != nil {
				cclog.Warnf("[ARCHIVE]> coldstore scan: %v", err)
			}
		}
	}
}

func (u *Uploader) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(u.cfg.SegmentDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || u.uploaded[e.Name()] {
			continue
		}
		full := filepath.Join(u.cfg.SegmentDir, e.Name())
		if err := u.Upload(ctx, full); err != nil {
			cclog.Warnf("[ARCHIVE]> coldstore upload %s: %v", full, err)
			continue
		}
		u.uploaded[e.Name()] = true
	}
	return nil
}

// Upload PUTs the file at path to the configured bucket, keyed by its base
// name.
func (u *Uploader) Upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(filepath.Base(path)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("coldstore: put object %q: %w", path, err)
	}
	cclog.Infof("[ARCHIVE]> coldstore uploaded %s", path)
	return nil
}
