// Package s3tree serves a handler tree stored in an S3 bucket, so resolvers
// can route against a layout published separately from the binary.
//
// Objects are treated as files and "/"-delimited common prefixes as
// directories, the way the S3 console presents them:
//
//	s3://deploys/api/handlers/health.go        -> handlers/health.go
//	s3://deploys/api/handlers/users/{id}.go    -> handlers/users/{id}.go
//
// Example:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	tree := s3tree.New(s3.NewFromConfig(cfg), "deploys", s3tree.WithPrefix("api"))
//
//	r := gateway.New(gateway.Config{HandlerPath: "handlers", CacheMode: gateway.CacheAll},
//	    gateway.WithPathProvider(tree),
//	    gateway.WithModuleLoader(registry),
//	)
//
// Every directory step of a resolution is a ListObjectsV2 call; enable the
// resolution cache.
package s3tree

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bjaus/gateway"
)

const delimiter = "/"

// Provider is a gateway.PathProvider over an S3 bucket.
type Provider struct {
	client   s3.ListObjectsV2APIClient
	bucket   string
	prefix   string
	pageSize int32
}

// Option configures a Provider.
type Option func(*Provider)

// WithPrefix roots the tree at a key prefix instead of the bucket root.
func WithPrefix(prefix string) Option {
	return func(p *Provider) {
		p.prefix = strings.Trim(prefix, delimiter)
	}
}

// WithPageSize sets the MaxKeys of each list request. The default is the
// service's (1000).
func WithPageSize(n int32) Option {
	return func(p *Provider) {
		p.pageSize = n
	}
}

// New returns a Provider listing bucket through client.
func New(client s3.ListObjectsV2APIClient, bucket string, opts ...Option) *Provider {
	p := &Provider{client: client, bucket: bucket}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReadDir implements the gateway.PathProvider interface. A directory with no
// objects under it yields an empty listing.
func (p *Provider) ReadDir(ctx context.Context, dir string) ([]gateway.PathEntry, error) {
	prefix := p.keyPrefix(dir)
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
	}
	if p.pageSize > 0 {
		input.MaxKeys = aws.Int32(p.pageSize)
	}

	var out []gateway.PathEntry
	pages := s3.NewListObjectsV2Paginator(p.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", p.bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), delimiter)
			if name != "" {
				out = append(out, gateway.PathEntry{Name: name, Dir: true})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			// "folder/" placeholder objects created by the console
			if name == "" || strings.Contains(name, delimiter) {
				continue
			}
			out = append(out, gateway.PathEntry{Name: name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *Provider) keyPrefix(dir string) string {
	dir = strings.Trim(dir, delimiter)
	parts := make([]string, 0, 2)
	for _, s := range []string{p.prefix, dir} {
		if s != "" && s != "." {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, delimiter) + delimiter
}
