package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// presignExpiration は閲覧・ダウンロード用署名付きURLの有効期限。
const presignExpiration = 15 * time.Minute

// S3Config はS3互換ストレージの設定。
type S3Config struct {
	Region    string
	Bucket    string
	Endpoint  string // MinIO等のS3互換サービス用。空ならAWS標準エンドポイント。
	AccessKey string
	SecretKey string
}

// S3Client はS3互換オブジェクトストレージのクライアント。
// Driveと異なりアプリ共通の資格情報で動作するため、
// プリンシパル単位のCredentialは使用しない。
type S3Client struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
}

// NewS3Client はS3Clientを生成する。
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIOはvirtual-hosted styleを解決できない
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
	}, nil
}

// Upload はオブジェクトを作成し、署名付きURLをリンクとして返す。
func (c *S3Client) Upload(ctx context.Context, _ Credential, name, contentType string, size int64, content io.ReadSeeker) (*Blob, error) {
	key := objectKey(name)

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          content,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object: %w", err)
	}

	link, err := c.presignGet(ctx, key)
	if err != nil {
		return nil, err
	}

	return &Blob{
		ID:          key,
		ViewLink:    link,
		ContentLink: link,
	}, nil
}

// Download はオブジェクトのバイトストリームを返す。呼び出し側がCloseする。
func (c *S3Client) Download(ctx context.Context, _ Credential, blobID string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(blobID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return out.Body, nil
}

// Delete はオブジェクトを削除する。存在しないキーの削除もS3では成功する。
func (c *S3Client) Delete(ctx context.Context, _ Credential, blobID string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(blobID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// presignGet は閲覧用の署名付きGET URLを発行する。
func (c *S3Client) presignGet(ctx context.Context, key string) (string, error) {
	req, err := c.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign get object: %w", err)
	}
	return req.URL, nil
}

// objectKey は衝突しないオブジェクトキーを生成する。
// 年月プレフィックスはバケット内の整理のためで、一意性はUUIDが担保する。
func objectKey(name string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("documents/%04d/%02d/%s-%s", now.Year(), int(now.Month()), uuid.NewString(), name)
}

// compile-time interface check
var _ Client = (*S3Client)(nil)
