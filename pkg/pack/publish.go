package pack

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fruitsalade/deltaupdate/internal/logging"
	"github.com/fruitsalade/deltaupdate/internal/metrics"
)

// Publish uploads every file under dir to bucket, keyed by prefix plus the
// slash-separated relative path. The bucket is created if missing. It
// returns the number of objects uploaded.
func Publish(ctx context.Context, client *s3.Client, bucket, prefix, dir string) (int, error) {
	if err := ensureBucket(ctx, client, bucket); err != nil {
		return 0, err
	}

	prefix = strings.Trim(prefix, "/")
	count := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" {
			key = path.Join(prefix, key)
		}
		if err := putFile(ctx, client, bucket, key, p); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	logging.L().Info("package published",
		logging.String("bucket", bucket),
		logging.String("prefix", prefix),
		logging.Int("objects", count))
	return count, nil
}

func putFile(ctx context.Context, client *s3.Client, bucket, key, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	contentType := "application/gzip"
	if strings.HasSuffix(key, ".json") {
		contentType = "application/json"
	}

	start := time.Now()
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	metrics.RecordS3Operation("put", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}
	if _, createErr := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}); createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", bucket, createErr)
	}
	logging.L().Info("created S3 bucket", logging.String("bucket", bucket))
	return nil
}
