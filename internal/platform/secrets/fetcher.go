package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const secretScheme = "secret://"

// ErrSecretNotFound indicates the referenced secret version does not exist.
var ErrSecretNotFound = errors.New("secrets: not found")

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references using Google Secret Manager with
// in-process caching. References are either full resource names or
// "secret://name[@version]" resolved against the configured project.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClient injects a preconstructed client, mainly for tests.
func WithClient(client secretManagerClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher constructs a Fetcher bound to the given project.
func NewFetcher(ctx context.Context, projectID string, opts ...Option) (*Fetcher, error) {
	fetcher := &Fetcher{
		projectID: strings.TrimSpace(projectID),
		logger:    zap.NewNop(),
		cache:     map[string]cacheEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(fetcher)
		}
	}

	if fetcher.client == nil {
		client, err := secretManagerClientFactory(ctx)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		fetcher.client = client
		fetcher.ownsClient = true
	}
	return fetcher, nil
}

// Resolve returns the plaintext value for a secret reference. Values that do
// not carry the secret:// scheme are returned unchanged, so configuration can
// hold either literals or references.
func (f *Fetcher) Resolve(ctx context.Context, reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", errors.New("secrets: reference is required")
	}
	if !strings.HasPrefix(reference, secretScheme) {
		return reference, nil
	}

	resource, err := f.resourceName(strings.TrimPrefix(reference, secretScheme))
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	entry, hit := f.cache[resource]
	f.mu.RUnlock()
	if hit {
		return entry.value, nil
	}

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, resource)
		}
		return "", fmt.Errorf("secrets: access %s: %w", resource, err)
	}

	value := string(resp.GetPayload().GetData())
	f.mu.Lock()
	f.cache[resource] = cacheEntry{value: value, fetchedAt: time.Now().UTC()}
	f.mu.Unlock()

	f.logger.Debug("secret resolved", zap.String("resource", resource))
	return value, nil
}

// Close releases the underlying client when owned by the fetcher.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

func (f *Fetcher) resourceName(name string) (string, error) {
	if strings.HasPrefix(name, "projects/") {
		return name, nil
	}
	if f.projectID == "" {
		return "", errors.New("secrets: project id is required for short references")
	}
	version := "latest"
	if base, pinned, found := strings.Cut(name, "@"); found {
		name = base
		if trimmed := strings.TrimSpace(pinned); trimmed != "" {
			version = trimmed
		}
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("secrets: secret name is required")
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.projectID, name, version), nil
}
