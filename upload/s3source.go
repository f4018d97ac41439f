package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/iland112/local-pkd-sub003/core"
)

// S3Getter is the subset of the S3 client Service.UploadFromS3 needs,
// narrowed for testability the way the teacher narrows gorp.SqlExecutor in
// sa/model.go's dbSelector/dbInserter interfaces.
type S3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// UploadFromS3 fetches an object from S3 and runs it through the normal
// Upload path (SPEC_FULL.md §3: scheduled bulk ingestion of ICAO's
// published Master List objects, in addition to HTTP multipart upload).
func (s *Service) UploadFromS3(ctx context.Context, client S3Getter, bucket, key string, mode core.ProcessingMode) (Result, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Result{}, fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, out.Body); err != nil {
		return Result{}, fmt.Errorf("reading s3://%s/%s: %w", bucket, key, err)
	}

	return s.Upload(ctx, key, buf.Bytes(), "", mode, false)
}
