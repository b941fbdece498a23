package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Options configures the S3 client. Static keys are used when both are
// set; otherwise the default AWS credential chain applies.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Password        string
}

// S3Client stores documents in a bucket, optionally encrypted.
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucketName string
	password   string
}

// FileMetadata represents metadata about a stored file
type FileMetadata struct {
	OriginalName     string            `json:"original_name"`
	ContentType      string            `json:"content_type"`
	Size             int64             `json:"size"`
	Encrypted        bool              `json:"encrypted"`
	Metadata         map[string]string `json:"metadata"`
	EncryptionFormat string            `json:"encryption_format,omitempty"`
}

// NewS3Client creates a new S3 client
func NewS3Client(ctx context.Context, opts S3Options) (*S3Client, error) {
	loaders := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loaders = append(loaders, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
		bucketName: opts.Bucket,
		password:   opts.Password,
	}, nil
}

// Bucket is the configured bucket name.
func (s *S3Client) Bucket() string { return s.bucketName }

// Ref is the s3:// reference for key.
func (s *S3Client) Ref(key string) string { return fmt.Sprintf("s3://%s/%s", s.bucketName, key) }

// Put uploads data through the multipart uploader, encrypting it with the
// configured password when there is one, and returns its s3:// reference.
func (s *S3Client) Put(ctx context.Context, key string, data []byte, meta *FileMetadata) (string, error) {
	body := data
	s3Metadata := map[string]string{}
	if meta != nil {
		if meta.OriginalName != "" {
			s3Metadata["name"] = meta.OriginalName
		}
		if meta.ContentType != "" {
			s3Metadata["content-type"] = meta.ContentType
		}
		for k, v := range meta.Metadata {
			s3Metadata[strings.ToLower(k)] = v
		}
	}
	if s.password != "" {
		enc, err := Encrypt(data, s.password)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt data: %w", err)
		}
		body = enc
		s3Metadata["encrypted"] = "true"
		s3Metadata["encryption-format"] = FormatGCM
	}

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    s3Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("key", key).Str("location", out.Location).Bool("encrypted", s.password != "").Int("size", len(data)).Msg("uploaded document to S3")
	return s.Ref(key), nil
}

// Get downloads and, when needed, decrypts an object.
func (s *S3Client) Get(ctx context.Context, key string) ([]byte, error) {
	data, _, err := s.Download(ctx, s.bucketName, key)
	return data, err
}

// Download fetches bucket/key and returns the plaintext with its metadata.
func (s *S3Client) Download(ctx context.Context, bucket, key string) ([]byte, *FileMetadata, error) {
	if bucket == "" {
		bucket = s.bucketName
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat S3 object: %w", err)
	}
	buf := manager.NewWriteAtBuffer(make([]byte, 0, aws.ToInt64(head.ContentLength)))
	if _, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return nil, nil, fmt.Errorf("failed to download from S3: %w", err)
	}

	meta := &FileMetadata{Metadata: map[string]string{}, Size: aws.ToInt64(head.ContentLength)}
	for k, v := range head.Metadata {
		meta.Metadata[strings.ToLower(k)] = v
	}
	meta.OriginalName = meta.Metadata["name"]
	meta.ContentType = aws.ToString(head.ContentType)

	plain, format, err := Decrypt(buf.Bytes(), s.password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	meta.EncryptionFormat = format
	meta.Encrypted = format != FormatPlain
	log.Debug().Str("key", key).Str("encryption_format", format).Int("size", len(plain)).Msg("downloaded document from S3")
	return plain, meta, nil
}

// Delete removes an object.
func (s *S3Client) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucketName), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("failed to delete S3 object: %w", err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	return err
}
