// Package s3 reads exported entity view display configuration from an
// S3-compatible bucket. Each display is one JSON object at {prefix}{id}.json.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

const objectSuffix = ".json"

// Config options for the S3 display store
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	Prefix          string // Key prefix of display objects, e.g. "config/"
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)
}

// Client is the subset of the S3 API the store uses
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Uploader writes display objects
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Store implements entityfields.DisplayRepository over S3
type Store struct {
	client   Client
	uploader Uploader
	bucket   string
	prefix   string
}

// New creates a display store from config using the AWS default config chain
func New(ctx context.Context, config Config) (*Store, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Options...)

	return NewWithClient(client, manager.NewUploader(client), config.Bucket, config.Prefix), nil
}

// NewWithClient creates a display store over an existing client
func NewWithClient(client Client, uploader Uploader, bucket, prefix string) *Store {
	return &Store{client: client, uploader: uploader, bucket: bucket, prefix: prefix}
}

func (s *Store) key(id string) string {
	return s.prefix + id + objectSuffix
}

// Display downloads and decodes the display object of id
func (s *Store) Display(ctx context.Context, id string) (*entityfields.Display, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, entityfields.ErrDisplayNotFound
		}
		return nil, fmt.Errorf("failed to download display %s: %w", id, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read display %s: %w", id, err)
	}

	var display entityfields.Display
	if err := json.Unmarshal(data, &display); err != nil {
		return nil, fmt.Errorf("failed to decode display %s: %w", id, err)
	}
	if display.ID == "" {
		display.ID = id
	}
	return &display, nil
}

// ViewModes lists the distinct modes of the display objects stored for
// entityType. Labels equal the mode id.
func (s *Store) ViewModes(ctx context.Context, entityType string) ([]entityfields.ViewMode, error) {
	prefix := s.prefix + entityType + "."
	seen := make(map[string]struct{})

	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list displays of %s: %w", entityType, err)
		}
		for _, object := range page.Contents {
			// {type}.{bundle}.{mode}.json
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(object.Key), prefix), objectSuffix)
			parts := strings.Split(name, ".")
			if len(parts) != 2 || parts[1] == "" {
				continue
			}
			seen[parts[1]] = struct{}{}
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}

	modes := make([]entityfields.ViewMode, 0, len(seen))
	for mode := range seen {
		modes = append(modes, entityfields.ViewMode{ID: mode, Label: mode, TargetEntityType: entityType})
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i].ID < modes[j].ID })
	return modes, nil
}

// SaveDisplay uploads display as JSON
func (s *Store) SaveDisplay(ctx context.Context, display *entityfields.Display) error {
	if display.TargetEntityType == "" || display.Bundle == "" || display.Mode == "" {
		return errors.New("display requires target entity type, bundle and mode")
	}
	if display.ID == "" {
		display.ID = entityfields.DisplayID(display.TargetEntityType, display.Bundle, display.Mode)
	}

	data, err := json.Marshal(display)
	if err != nil {
		return fmt.Errorf("failed to encode display: %w", err)
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(display.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload display %s: %w", display.ID, err)
	}
	return nil
}

// DeleteDisplay removes the display object of id
func (s *Store) DeleteDisplay(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete display %s: %w", id, err)
	}
	return nil
}

// isNotFound handles both the typed error and the generic API error some
// S3-compatible services return
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
