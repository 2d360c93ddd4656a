package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// copyPartFloor is the smallest size S3 accepts for a non-final part of a
// multipart upload. Assemblies whose chunks fall below it are merged through
// the service instead.
const copyPartFloor int64 = 5 * 1024 * 1024

// S3Config points the gateway at an S3-compatible endpoint. Endpoint and
// path-style addressing cover MinIO and similar self-hosted stores.
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	Logger       *slog.Logger
}

// S3Gateway implements Gateway against S3-compatible object storage.
type S3Gateway struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	logger    *slog.Logger
}

// NewS3Gateway builds an S3-backed gateway. It does not probe the bucket; use
// Ping to verify access.
func NewS3Gateway(ctx context.Context, cfg S3Config) (*S3Gateway, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, clientOpts...)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Gateway{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		logger:    logger,
	}, nil
}

// Ping verifies the bucket is reachable and accessible.
func (g *S3Gateway) Ping(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)})
	if err != nil {
		return fmt.Errorf("%w: head bucket %s: %v", ErrUnavailable, g.bucket, err)
	}
	return nil
}

// PresignPut returns a time-limited URL a client can PUT one chunk to. The
// content length is pinned into the signature so clients cannot upload a
// different amount than the session planned.
func (g *S3Gateway) PresignPut(ctx context.Context, key string, contentLength int64, expiry time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}
	if contentLength > 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	presigned, err := g.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("%w: presign put %s: %v", ErrUnavailable, key, err)
	}
	return presigned.URL, nil
}

// PresignGet returns a time-limited download URL for an object.
func (g *S3Gateway) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	presigned, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("%w: presign get %s: %v", ErrUnavailable, key, err)
	}
	return presigned.URL, nil
}

// Stat reports the size of an object, or ErrNotFound when it is absent.
func (g *S3Gateway) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("%w: head %s: %v", ErrUnavailable, key, err)
	}
	return ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}, nil
}

// ListPrefix returns the objects stored under prefix in key order.
func (g *S3Gateway) ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Assemble concatenates the parts, in the order given, into finalKey. Large
// assemblies copy server-side through a multipart upload; a single part is a
// plain copy; parts below the S3 copy floor are streamed through the service
// and re-put as one object.
func (g *S3Gateway) Assemble(ctx context.Context, parts []ObjectInfo, finalKey, contentType string) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: no parts to assemble into %s", ErrNotFound, finalKey)
	}
	if len(parts) == 1 {
		return g.copySingle(ctx, parts[0], finalKey, contentType)
	}
	if minNonFinalPart(parts) >= copyPartFloor {
		return g.multipartCopy(ctx, parts, finalKey, contentType)
	}
	return g.streamMerge(ctx, parts, finalKey, contentType)
}

func (g *S3Gateway) copySingle(ctx context.Context, part ObjectInfo, finalKey, contentType string) error {
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(finalKey),
		CopySource: aws.String(g.bucket + "/" + part.Key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
		input.MetadataDirective = types.MetadataDirectiveReplace
	}
	if _, err := g.client.CopyObject(ctx, input); err != nil {
		return fmt.Errorf("%w: copy %s to %s: %v", ErrUnavailable, part.Key, finalKey, err)
	}
	return nil
}

func (g *S3Gateway) multipartCopy(ctx context.Context, parts []ObjectInfo, finalKey, contentType string) (err error) {
	createInput := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(finalKey),
	}
	if contentType != "" {
		createInput.ContentType = aws.String(contentType)
	}
	createOut, err := g.client.CreateMultipartUpload(ctx, createInput)
	if err != nil {
		return fmt.Errorf("%w: create multipart upload for %s: %v", ErrUnavailable, finalKey, err)
	}
	uploadID := aws.ToString(createOut.UploadId)
	defer func() {
		if err == nil {
			return
		}
		_, abortErr := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(g.bucket),
			Key:      aws.String(finalKey),
			UploadId: aws.String(uploadID),
		})
		if abortErr != nil {
			g.logger.Error("abort multipart upload failed", "key", finalKey, "upload_id", uploadID, "error", abortErr)
		}
	}()

	completed := make([]types.CompletedPart, 0, len(parts))
	for i, part := range parts {
		partNumber := int32(i + 1)
		copyOut, copyErr := g.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:     aws.String(g.bucket),
			Key:        aws.String(finalKey),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNumber),
			CopySource: aws.String(g.bucket + "/" + part.Key),
		})
		if copyErr != nil {
			err = fmt.Errorf("%w: copy part %d from %s: %v", ErrUnavailable, partNumber, part.Key, copyErr)
			return err
		}
		completed = append(completed, types.CompletedPart{
			ETag:       copyOut.CopyPartResult.ETag,
			PartNumber: aws.Int32(partNumber),
		})
	}

	_, err = g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(g.bucket),
		Key:             aws.String(finalKey),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		err = fmt.Errorf("%w: complete multipart upload for %s: %v", ErrUnavailable, finalKey, err)
		return err
	}
	g.logger.Debug("assembled object via multipart copy", "key", finalKey, "parts", len(completed))
	return nil
}

func (g *S3Gateway) streamMerge(ctx context.Context, parts []ObjectInfo, finalKey, contentType string) error {
	var totalSize int64
	for _, part := range parts {
		totalSize += part.Size
	}
	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		for _, part := range parts {
			out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(g.bucket),
				Key:    aws.String(part.Key),
			})
			if err != nil {
				pw.CloseWithError(fmt.Errorf("get part %s: %w", part.Key, err))
				return
			}
			_, err = io.Copy(pw, out.Body)
			out.Body.Close()
			if err != nil {
				pw.CloseWithError(fmt.Errorf("stream part %s: %w", part.Key, err))
				return
			}
		}
	}()

	putInput := &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(finalKey),
		Body:          pr,
		ContentLength: aws.Int64(totalSize),
	}
	if contentType != "" {
		putInput.ContentType = aws.String(contentType)
	}
	if _, err := g.client.PutObject(ctx, putInput); err != nil {
		return fmt.Errorf("%w: put merged object %s: %v", ErrUnavailable, finalKey, err)
	}
	g.logger.Debug("assembled object via stream merge", "key", finalKey, "parts", len(parts), "size", totalSize)
	return nil
}

// Checksum streams the objects in order through SHA-256 and returns the hex
// digest plus the total byte count.
func (g *S3Gateway) Checksum(ctx context.Context, keys []string) (string, int64, error) {
	hasher := sha256.New()
	var total int64
	for _, key := range keys {
		out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return "", 0, fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return "", 0, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
		}
		n, err := io.Copy(hasher, out.Body)
		out.Body.Close()
		if err != nil {
			return "", 0, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
		}
		total += n
	}
	return hex.EncodeToString(hasher.Sum(nil)), total, nil
}

// DeletePrefix removes every object under prefix and reports how many were
// deleted.
func (g *S3Gateway) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := g.ListPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for start := 0; start < len(objects); start += 1000 {
		end := start + 1000
		if end > len(objects) {
			end = len(objects)
		}
		identifiers := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			identifiers = append(identifiers, types.ObjectIdentifier{Key: aws.String(obj.Key)})
		}
		out, err := g.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(g.bucket),
			Delete: &types.Delete{Objects: identifiers, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("%w: delete prefix %s: %v", ErrUnavailable, prefix, err)
		}
		deleted += len(identifiers) - len(out.Errors)
		for _, delErr := range out.Errors {
			g.logger.Warn("object delete failed", "key", aws.ToString(delErr.Key), "code", aws.ToString(delErr.Code))
		}
	}
	return deleted, nil
}

// minNonFinalPart returns the smallest size among all parts except the last.
func minNonFinalPart(parts []ObjectInfo) int64 {
	min := parts[0].Size
	for _, part := range parts[:len(parts)-1] {
		if part.Size < min {
			min = part.Size
		}
	}
	return min
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}
