package catalog

import (
	"context"

	"github.com/openctemio/docflow/internal/infra/objectstore"
	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/validator"
)

// S3Source reads the catalog from one object.
type S3Source struct {
	bucket    *objectstore.Bucket
	key       string
	validator *validator.Validator
}

// NewS3Source creates an S3 source.
func NewS3Source(bucket *objectstore.Bucket, key string, v *validator.Validator) *S3Source {
	return &S3Source{bucket: bucket, key: key, validator: v}
}

// Load implements pipeline.Source.
func (s *S3Source) Load(ctx context.Context) (*pipeline.Catalog, error) {
	data, err := s.bucket.Get(ctx, s.key, MaxDocumentSize)
	if err != nil {
		return nil, err
	}
	return Parse(s.key, data, s.validator)
}

var _ pipeline.Source = (*S3Source)(nil)
