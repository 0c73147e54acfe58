package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/goartstore/vault-module/internal/storage/contenthash"
)

// Ключи пользовательских метаданных объекта S3.
const (
	metaResourceType = "resource-type"
	metaContentID    = "content-id"
)

// S3ClientConfig - параметры клиента S3 / S3-совместимого хранилища.
type S3ClientConfig struct {
	// Endpoint - URL S3-совместимого хранилища (MinIO и т.п.); пусто - AWS
	Endpoint string
	Region   string
	// AccessKeyID и SecretAccessKey - статические ключи; пусто - цепочка по умолчанию
	AccessKeyID     string
	SecretAccessKey string
	// MaxAttempts - количество попыток для временных ошибок
	MaxAttempts int
}

// NewS3Client создаёт клиент S3.
// Для кастомного endpoint включается path-style адресация.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxAttempts
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

// S3Store - хранилище объектов в S3. Ключ объекта: {keyPrefix}{contentID}.
type S3Store struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	keyPrefix string
}

// NewS3Store создаёт хранилище и проверяет доступ к bucket (HeadBucket).
// Bucket должен существовать заранее.
func NewS3Store(ctx context.Context, client *s3.Client, bucket, keyPrefix string) (*S3Store, error) {
	if client == nil {
		return nil, fmt.Errorf("S3 клиент не задан")
	}
	if bucket == "" {
		return nil, fmt.Errorf("имя bucket не задано")
	}

	store := &S3Store{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    bucket,
		keyPrefix: keyPrefix,
	}
	if err := store.Check(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// objectKey возвращает ключ объекта с учётом префикса.
func (s *S3Store) objectKey(contentID string) string {
	return s.keyPrefix + contentID
}

func (s *S3Store) locator(contentID string) string {
	return "s3://" + s.bucket + "/" + s.objectKey(contentID)
}

// Put записывает объект, если его нет (HeadObject → PutObject).
// Гонка двух Put одного содержимого безопасна: байты идентичны.
func (s *S3Store) Put(ctx context.Context, in PutInput) (*PutResult, error) {
	if !contenthash.Valid(in.ContentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentID, in.ContentID)
	}
	key := s.objectKey(in.ContentID)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		size := in.Size
		if head.ContentLength != nil {
			size = *head.ContentLength
		}
		return &PutResult{Locator: s.locator(in.ContentID), Size: size, Created: false}, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("%w: HeadObject %s: %v", ErrUnavailable, key, err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          in.Body,
		ContentLength: aws.Int64(in.Size),
		Metadata: map[string]string{
			metaContentID:    in.ContentID,
			metaResourceType: string(in.ResourceType),
		},
	}
	if in.MimeType != "" {
		input.ContentType = aws.String(in.MimeType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("%w: PutObject %s: %v", ErrUnavailable, key, err)
	}
	return &PutResult{Locator: s.locator(in.ContentID), Size: in.Size, Created: true}, nil
}

// Delete удаляет объект. DeleteObject в S3 идемпотентен;
// NoSuchKey от S3-совместимых хранилищ также считается успехом.
func (s *S3Store) Delete(ctx context.Context, contentID string) error {
	if !contenthash.Valid(contentID) {
		return fmt.Errorf("%w: %q", ErrInvalidContentID, contentID)
	}
	key := s.objectKey(contentID)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: DeleteObject %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Open открывает объект для чтения (GetObject).
func (s *S3Store) Open(ctx context.Context, contentID string) (io.ReadCloser, error) {
	if !contenthash.Valid(contentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentID, contentID)
	}
	key := s.objectKey(contentID)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
		}
		return nil, fmt.Errorf("%w: GetObject %s: %v", ErrUnavailable, key, err)
	}
	return out.Body, nil
}

// Exists проверяет наличие объекта (HeadObject).
func (s *S3Store) Exists(ctx context.Context, contentID string) (bool, error) {
	if !contenthash.Valid(contentID) {
		return false, fmt.Errorf("%w: %q", ErrInvalidContentID, contentID)
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(contentID)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: HeadObject: %v", ErrUnavailable, err)
}

// Check проверяет доступ к bucket (HeadBucket).
func (s *S3Store) Check(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("%w: нет доступа к bucket %q: %v", ErrUnavailable, s.bucket, err)
	}
	return nil
}

// PresignGet возвращает временную ссылку на скачивание объекта.
// filename подставляется в Content-Disposition ответа.
func (s *S3Store) PresignGet(ctx context.Context, contentID, filename string, ttl time.Duration) (string, error) {
	if !contenthash.Valid(contentID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentID, contentID)
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(contentID)),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(
			mime.FormatMediaType("attachment", map[string]string{"filename": filename}),
		)
	}

	req, err := s.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("ошибка формирования presigned URL: %w", err)
	}
	return req.URL, nil
}

// isNotFound распознаёт отсутствие объекта: NotFound (HEAD), NoSuchKey (GET)
// или HTTP 404 без тела.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
