package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fairdatastation/internal/config"
	"fairdatastation/internal/models"
)

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 keeps artifact bytes as objects in a bucket; the row only carries
// the metadata.
type S3 struct {
	client objectAPI
	bucket string
}

// NewS3 builds the backend from the ARTIFACT_S3_* settings.
func NewS3(ctx context.Context, cfg config.Config) (*S3, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3{client: client, bucket: cfg.ArtifactS3Bucket}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArtifactS3Region),
	}
	if cfg.ArtifactS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArtifactS3Endpoint,
					HostnameImmutable: cfg.ArtifactS3PathStyle,
					SigningRegion:     cfg.ArtifactS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArtifactS3PathStyle
	}), nil
}

func (s *S3) Storage() models.ArtifactStorage {
	return models.StorageS3
}

// ObjectKey is where the bytes of a live in the bucket.
func ObjectKey(a models.JobArtifact) string {
	return path.Join("jobs", a.JobID.String(), "artifacts", a.ID.String(), path.Base("/"+a.Filename))
}

func (s *S3) Put(ctx context.Context, a *models.JobArtifact, data []byte) error {
	key := ObjectKey(*a)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(a.ContentType),
		Metadata:    map[string]string{"sha256": a.Hash},
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	a.Data = nil
	log.Printf("artifacts: stored s3://%s/%s bytes=%d", s.bucket, key, len(data))
	return nil
}

func (s *S3) Get(ctx context.Context, a models.JobArtifact) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ObjectKey(a)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	if !a.Verify(data) {
		return nil, fmt.Errorf("object %s does not match artifact hash", ObjectKey(a))
	}
	return data, nil
}

func (s *S3) Delete(ctx context.Context, a models.JobArtifact) error {
	key := ObjectKey(a)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	log.Printf("artifacts: deleted s3://%s/%s", s.bucket, key)
	return nil
}
