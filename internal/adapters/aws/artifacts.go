package aws

import (
	"context"
	"fmt"

	"github.com/resilient-vitality/conveyor/internal/app"
)

// ArtifactProvider places every application's artifacts in one shared
// bucket, keyed by full name and git ref.
type ArtifactProvider struct {
	bucket string
}

// NewArtifactProvider creates a provider over the shared artifact bucket
func NewArtifactProvider(bucket string) *ArtifactProvider {
	return &ArtifactProvider{bucket: bucket}
}

// Bucket returns the shared artifact bucket
func (p *ArtifactProvider) Bucket(ctx context.Context, application *app.Application) (string, error) {
	return p.bucket, nil
}

// Folder returns the object prefix for one ref of one application
func (p *ArtifactProvider) Folder(ctx context.Context, application *app.Application, gitRef string) (string, error) {
	return fmt.Sprintf("%s/%s/%s", application.Org, application.App, gitRef), nil
}
