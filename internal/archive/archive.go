// Package archive ships organized snapshots and knowledge trees to S3 for
// offline analysis and rollback. Archival is best effort: the pipeline treats
// every failure here as a warning.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// s3API is the slice of the S3 client the archiver calls.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes gzipped JSON documents under a fixed key layout:
//
//	mailmind/<account>/snapshots/<snapshot-id>.json.gz
//	mailmind/<account>/trees/v<version>.json.gz
type Archiver struct {
	client s3API
	bucket string
}

// New builds an Archiver against the configured bucket.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Archiver{client: s3.NewFromConfig(awsCfg), bucket: cfg.S3Bucket}, nil
}

// NewWithClient builds an Archiver over an existing client.
func NewWithClient(client s3API, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket}
}

// ArchiveSnapshot stores one organized snapshot.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snap *domain.OrganizedSnapshot) error {
	key := fmt.Sprintf("mailmind/%s/snapshots/%s.json.gz", snap.AccountID, snap.ID)
	return a.put(ctx, key, snap)
}

// ArchiveTree stores one knowledge tree, keyed by version so history is
// browsable in order.
func (a *Archiver) ArchiveTree(ctx context.Context, tree *domain.KnowledgeTree) error {
	key := fmt.Sprintf("mailmind/%s/trees/v%06d.json.gz", tree.AccountID, tree.Version)
	return a.put(ctx, key, tree)
}

func (a *Archiver) put(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("compress %s: %w", key, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", key, err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	logger.Debug("archived document", "key", key, "bytes", buf.Len())
	return nil
}
