package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/cuemby/scribe/pkg/types"
)

// S3Config configures an S3Provider. For S3-compatible backends other
// than AWS, Endpoint and PathStyle let the caller target MinIO, R2, or
// similar (spec §9, "presigned URLs and path-style addressing").
type S3Config struct {
	Bucket          string
	GlobalPrefix    string
	Region          string
	Endpoint        string // non-empty for S3-compatible, non-AWS backends
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3Provider is an object-store-backed Capability.
type S3Provider struct {
	client       *s3.Client
	presign      *s3.PresignClient
	bucket       string
	globalPrefix string
}

// NewS3Provider builds an S3Provider from cfg, loading ambient AWS
// configuration (env vars, shared config files) and overriding with any
// explicit credentials/endpoint supplied.
func NewS3Provider(ctx context.Context, cfg S3Config) (*S3Provider, error) {
	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("docstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Provider{
		client:       client,
		presign:      s3.NewPresignClient(client),
		bucket:       cfg.Bucket,
		globalPrefix: cfg.GlobalPrefix,
	}, nil
}

func (p *S3Provider) fullKey(key string) string {
	return joinKey(p.globalPrefix, key)
}

func (p *S3Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("docstore: get %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("docstore: get %q: %w", key, err)
	}
	return data, true, nil
}

func (p *S3Provider) Put(ctx context.Context, key string, data []byte) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("docstore: put %q: %w", key, err)
	}
	return nil
}

func (p *S3Provider) Remove(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(key)),
	})
	// S3 DeleteObject is idempotent by design: a missing key is not an error.
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("docstore: remove %q: %w", key, err)
	}
	return nil
}

func (p *S3Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("docstore: exists %q: %w", key, err)
	}
	return true, nil
}

func (p *S3Provider) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := normalizePrefix(prefix)
	fullPrefix := p.fullKey(listPrefix)

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("docstore: list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, stripPrefix(aws.ToString(obj.Key), p.globalPrefix, listPrefix))
		}
	}
	return keys, nil
}

func (p *S3Provider) PresignUpload(ctx context.Context, key string, contentType string) (string, error) {
	req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.fullKey(key)),
		ContentType: nonEmptyPtr(contentType),
	}, s3.WithPresignExpires(types.UploadURLTTL))
	if err != nil {
		return "", fmt.Errorf("docstore: presign_upload %q: %w", key, err)
	}
	return req.URL, nil
}

func (p *S3Provider) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(key)),
	}, s3.WithPresignExpires(types.DownloadURLTTL))
	if err != nil {
		return "", fmt.Errorf("docstore: presign_download %q: %w", key, err)
	}
	return req.URL, nil
}

// CopyDocument copies every object under "{srcID}/" to "{dstID}/" using
// S3's server-side CopyObject, so bytes never transit the caller
// (spec §4.1, §9).
func (p *S3Provider) CopyDocument(ctx context.Context, srcID, dstID string) error {
	srcPrefix := normalizePrefix(srcID + "/")
	suffixes, err := p.List(ctx, srcPrefix)
	if err != nil {
		return fmt.Errorf("docstore: copy_document list %q: %w", srcID, err)
	}

	for _, suffix := range suffixes {
		srcKey := p.fullKey(srcPrefix + suffix)
		dstKey := p.fullKey(normalizePrefix(dstID+"/") + suffix)
		copySource := url.PathEscape(p.bucket + "/" + srcKey)

		_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(p.bucket),
			Key:        aws.String(dstKey),
			CopySource: aws.String(copySource),
		})
		if err != nil {
			return fmt.Errorf("docstore: copy_document %q -> %q: %w", srcKey, dstKey, err)
		}
	}
	return nil
}

func (p *S3Provider) CheckStore(ctx context.Context) error {
	probeKey := ".scribe-check/" + time.Now().UTC().Format(time.RFC3339Nano)
	if err := p.Put(ctx, probeKey, []byte("ok")); err != nil {
		return fmt.Errorf("docstore: check_store put: %w", err)
	}
	if _, ok, err := p.Get(ctx, probeKey); err != nil || !ok {
		return fmt.Errorf("docstore: check_store get: ok=%v err=%w", ok, err)
	}
	return p.Remove(ctx, probeKey)
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
