package pack

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/deltaupdate/internal/testutil"
	"github.com/fruitsalade/deltaupdate/pkg/fetch"
	"github.com/fruitsalade/deltaupdate/pkg/manifest"
)

func TestPublish(t *testing.T) {
	ctx := context.Background()
	mock, err := testutil.StartMockS3(ctx, "releases")
	require.NoError(t, err)
	defer mock.Close()

	out := t.TempDir()
	res, err := Build(ctx, Options{
		Input:    writeRelease(t),
		Output:   out,
		Target:   "app",
		Version:  "2.0.0",
		JSONName: "update",
	})
	require.NoError(t, err)

	n, err := Publish(ctx, mock.Client, "releases", "desktop/", out)
	require.NoError(t, err)
	assert.Equal(t, res.Blobs+1, n)

	obj, err := mock.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String("releases"),
		Key:    aws.String("desktop/update.json"),
	})
	require.NoError(t, err)
	body, _ := io.ReadAll(obj.Body)
	obj.Body.Close()

	m, err := manifest.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", m.Version)

	// The published layout is what the S3 fetcher resolves blobs against.
	base := manifest.ResolveBaseURL("", "s3://releases/desktop/update.json", m)
	assert.Equal(t, "s3://releases/desktop/app2.0.0/", base)

	leaf := m.Hash.Child("app.bin")
	require.NotNil(t, leaf)
	rc, err := fetch.NewS3(mock.Client).Fetch(ctx, manifest.BlobURL(base, leaf.Hash))
	require.NoError(t, err)
	rc.Close()
}

func TestPublish_CreatesBucket(t *testing.T) {
	ctx := context.Background()
	mock, err := testutil.StartMockS3(ctx, "existing")
	require.NoError(t, err)
	defer mock.Close()

	out := t.TempDir()
	_, err = Build(ctx, Options{Input: writeRelease(t), Output: out, Target: "app", Version: "1.0.0"})
	require.NoError(t, err)

	_, err = Publish(ctx, mock.Client, "fresh-bucket", "", out)
	require.NoError(t, err)

	_, err = mock.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String("fresh-bucket"),
		Key:    aws.String("update.json"),
	})
	assert.NoError(t, err)
}
