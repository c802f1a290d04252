// utils/r2.go
package utils

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var r2Client *s3.Client
var r2Bucket string

// InitR2 configures the client for the R2 bucket where the chat relay
// stores the video artifacts it observes. Optional: when the account ID is
// unset the engine trusts the sizes reported in arrival events.
func InitR2() error {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	if accountID == "" {
		return nil
	}
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	r2Bucket = os.Getenv("R2_BUCKET_NAME")
	if r2Bucket == "" {
		return fmt.Errorf("R2_BUCKET_NAME must be set when CLOUDFLARE_ACCOUNT_ID is")
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to load R2 config: %w", err)
	}

	r2Client = s3.NewFromConfig(cfg)
	return nil
}

// R2Ready reports whether artifact size verification is available.
func R2Ready() bool {
	return r2Client != nil
}

// ArtifactSize returns the stored size of the artifact object the relay
// uploaded, so a reported size can be checked against the real object.
func ArtifactSize(ctx context.Context, key string) (int64, error) {
	if r2Client == nil {
		return 0, fmt.Errorf("R2 client not initialized")
	}
	head, err := r2Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r2Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to head artifact %s: %w", key, err)
	}
	if head.ContentLength == nil {
		return 0, fmt.Errorf("artifact %s has no content length", key)
	}
	return *head.ContentLength, nil
}
