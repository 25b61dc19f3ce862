package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// ObjectStore holds exported result sets. Keys are built by BuildResultKey.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildResultKey returns the object key for one run's exported result set.
func BuildResultKey(tenantID, workflowID string) (string, error) {
	if err := validateKeyComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validateKeyComponent(workflowID, "workflow id"); err != nil {
		return "", err
	}
	return fmt.Sprintf("results/%s/%s.parquet", tenantID, workflowID), nil
}

func validateKeyComponent(value, field string) error {
	if !keyComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
