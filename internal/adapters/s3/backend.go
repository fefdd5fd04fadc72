// Package s3 implements a fragment backend on an S3-compatible object store.
//
// Each fragment is one object named
//
//	<prefix><event, 20 digits>/<index, 10 digits>
//
// so a listing of one event prefix returns its fragments in index order.
// PutObject is durable once acknowledged, so Sync completes immediately.
// The SDK's own retries are disabled: throttling responses are reported as
// transient and retried by the store's retry coordinator.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/bft-labs/fragstore/internal/domain"
	"github.com/bft-labs/fragstore/internal/header"
)

// Name is the backend kind name.
const Name = "s3"

// Default values.
const (
	DefaultMaxChunkSize   = 8 << 20
	DefaultConcurrency    = 32
	DefaultRequestTimeout = 30 * time.Second
)

// Options configures an S3 backend.
type Options struct {
	Bucket string
	Region string

	// Endpoint overrides the service endpoint, e.g. "http://localhost:9000"
	// for MinIO. Path-style addressing is used when it is set.
	Endpoint string

	// Prefix is prepended to every object key.
	Prefix string

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	MaxChunkSize   int
	Concurrency    int
	RequestTimeout time.Duration
}

// objectAPI is the subset of *s3.Client the backend uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Backend stores fragments as objects.
type Backend struct {
	client   objectAPI
	bucket   string
	prefix   string
	maxChunk int
	timeout  time.Duration
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Open builds an S3 client from opts and the default AWS configuration.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Bucket == "" || opts.Region == "" {
		return nil, fmt.Errorf("%w: s3 backend needs a bucket and a region", domain.ErrInvalidConfig)
	}

	awsConfig, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load default AWS config")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.Region = opts.Region
		o.Retryer = aws.NopRetryer{}
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		if len(opts.AccessKeyID) > 0 && len(opts.SecretAccessKey) > 0 {
			o.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")
		}
	})
	return newBackend(client, opts), nil
}

func newBackend(client objectAPI, opts Options) *Backend {
	if opts.MaxChunkSize == 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Backend{
		client:   client,
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		maxChunk: opts.MaxChunkSize,
		timeout:  opts.RequestTimeout,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ObjectKey returns the object name of a fragment.
func (b *Backend) ObjectKey(key domain.ChunkKey) string {
	return fmt.Sprintf("%s%020d/%010d", b.prefix, key.Event, key.Index)
}

func (b *Backend) Name() string { return Name }

func (b *Backend) MaxChunkSize() int { return b.maxChunk }

// WriteChunk uploads header||payload on a background goroutine, bounded by
// the configured concurrency.
func (b *Backend) WriteChunk(key domain.ChunkKey, hdr, payload []byte, onComplete func(error)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		onComplete(domain.ErrClosed)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	rec := header.Join(hdr, payload)
	go func() {
		defer b.wg.Done()
		if err := b.sem.Acquire(b.ctx, 1); err != nil {
			onComplete(domain.ErrClosed)
			return
		}
		defer b.sem.Release(1)

		ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
		defer cancel()
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(b.ObjectKey(key)),
			Body:          bytes.NewReader(rec),
			ContentLength: aws.Int64(int64(len(rec))),
		})
		if err != nil {
			onComplete(classify(pkgerrors.Wrapf(err, "put fragment %s", key)))
			return
		}
		onComplete(nil)
	}()
}

// ReadChunk downloads the object for key.
func (b *Backend) ReadChunk(ctx context.Context, key domain.ChunkKey) ([]byte, []byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.ObjectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return nil, nil, pkgerrors.Wrapf(err, "get fragment %s", key)
	}
	defer out.Body.Close()

	rec, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, pkgerrors.Wrapf(err, "read fragment %s", key)
	}
	return header.SplitRecord(rec)
}

// Sync completes immediately; acknowledged objects are already durable.
func (b *Backend) Sync(onComplete func(error)) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		onComplete(domain.ErrClosed)
		return
	}
	onComplete(nil)
}

// Close cancels uploads still waiting for a slot and waits for the rest.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
	return nil
}

// throttleCodes are service error codes that mean "slow down and retry".
var throttleCodes = map[string]bool{
	"SlowDown":                               true,
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestThrottled":                       true,
	"RequestThrottledException":              true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
}

// classify marks throttling and service-unavailable responses as transient.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && throttleCodes[apiErr.ErrorCode()] {
		return domain.Transient(err)
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusServiceUnavailable, http.StatusTooManyRequests:
			return domain.Transient(err)
		}
	}
	return err
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
