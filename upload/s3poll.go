package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/iland112/local-pkd-sub003/core"
	blog "github.com/iland112/local-pkd-sub003/log"
)

// S3Lister is the subset of the S3 client PollS3 needs to enumerate
// candidate Master List objects, narrowed the same way S3Getter narrows
// the client for UploadFromS3.
type S3Lister interface {
	S3Getter
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// PollS3 lists bucket/prefix once and runs every object found through
// UploadFromS3, relying on Service.checkDuplicate to skip objects already
// ingested on a prior poll. It returns on the first listing error; object
// upload errors are logged and do not stop the poll.
func (s *Service) PollS3(ctx context.Context, client S3Lister, bucket, prefix string, mode core.ProcessingMode) error {
	var continuationToken *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return err
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if _, err := s.UploadFromS3(ctx, client, bucket, key, mode); err != nil {
				s.log.Info(fmt.Sprintf("s3 poll: skipping %s: %s", key, err))
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		continuationToken = out.NextContinuationToken
	}
}

// RunS3Poller blocks, calling PollS3 on the given period until ctx is
// cancelled. A zero period disables polling entirely.
func RunS3Poller(ctx context.Context, s *Service, client S3Lister, bucket, prefix string, period time.Duration, log blog.Logger) {
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PollS3(ctx, client, bucket, prefix, core.ModeAuto); err != nil {
				log.AuditErr(fmt.Sprintf("s3 poll failed: %s", err))
			}
		}
	}
}
