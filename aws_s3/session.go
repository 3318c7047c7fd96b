// Package aws_s3 stores persistent objects as S3 objects, one per identifier. Identifier
// sequences live elsewhere: S3 has no atomic counter, so allocation is delegated.
package aws_s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/encoding"
)

const (
	metaCID       = "cid"
	metaClassName = "cname"

	defaultMaxConcurrency = 8
)

// Client is the subset of the S3 API the session calls. *s3.Client satisfies it.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Session stores objects in an S3 bucket.
type Session struct {
	client         Client
	bucket         string
	prefix         string
	maxConcurrency int
	compression    encoding.Compression
	allocator      odb.IdentifierAllocator
}

// NewSession returns a session over client. allocator hands out the identifiers, e.g. a
// redis or cassandra session sharing the same database.
func NewSession(client Client, config Config, allocator odb.IdentifierAllocator, compression encoding.Compression) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("s3Client parameter can't be nil")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name can't be empty")
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaultMaxConcurrency
	}
	return &Session{
		client:         client,
		bucket:         config.Bucket,
		prefix:         config.Prefix,
		maxConcurrency: config.MaxConcurrency,
		compression:    compression,
		allocator:      allocator,
	}, nil
}

func (s *Session) objectKey(oid odb.OID) string {
	return s.prefix + "objects/" + strconv.FormatUint(uint64(oid), 16)
}

func (s *Session) extentPrefix(cid odb.CID) string {
	return s.prefix + "extents/" + strconv.FormatUint(uint64(cid), 10) + "/"
}

func (s *Session) extentKey(cid odb.CID, oid odb.OID) string {
	return s.extentPrefix(cid) + strconv.FormatUint(uint64(oid), 16)
}

// keyNotFound reports whether err is S3's missing key error.
func keyNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

func (s *Session) AllocateIdentifierBlock(ctx context.Context, cid odb.CID, count int) ([]odb.OID, error) {
	if s.allocator == nil {
		return nil, fmt.Errorf("s3 session has no identifier allocator")
	}
	return s.allocator.AllocateIdentifierBlock(ctx, cid, count)
}

func (s *Session) group(ctx context.Context) (*errgroup.Group, context.Context) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.maxConcurrency)
	return eg, ctx
}

// LoadObjectBytes fetches the objects in parallel.
func (s *Session) LoadObjectBytes(ctx context.Context, oids []odb.OID) ([][]byte, error) {
	r := make([][]byte, len(oids))
	eg, ctx := s.group(ctx)
	for i, oid := range oids {
		eg.Go(func() error {
			out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.objectKey(oid)),
			})
			if keyNotFound(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("get object %s failed, details: %w", oid, err)
			}
			defer out.Body.Close()
			ba, err := io.ReadAll(out.Body)
			if err != nil {
				return fmt.Errorf("read object %s failed, details: %w", oid, err)
			}
			if r[i], err = encoding.Decompress(ba); err != nil {
				return fmt.Errorf("object %s payload is corrupt, details: %w", oid, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return r, nil
}

// StoreObjectBytes puts the objects in parallel. New objects also get an extent marker.
// S3 has no multi object transaction, a failure may leave some records written.
func (s *Session) StoreObjectBytes(ctx context.Context, records []odb.ObjectRecord) error {
	eg, ctx := s.group(ctx)
	for _, rec := range records {
		eg.Go(func() error {
			payload, err := encoding.Compress(rec.Data, s.compression)
			if err != nil {
				return err
			}
			if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.objectKey(rec.OID)),
				Body:   bytes.NewReader(payload),
				Metadata: map[string]string{
					metaCID:       strconv.FormatUint(uint64(rec.CID), 10),
					metaClassName: rec.ClassName,
				},
			}); err != nil {
				return fmt.Errorf("put object %s failed, details: %w", rec.OID, err)
			}
			if !rec.IsNew {
				return nil
			}
			if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.extentKey(rec.CID, rec.OID)),
				Body:   bytes.NewReader(nil),
			}); err != nil {
				return fmt.Errorf("put extent marker of %s failed, details: %w", rec.OID, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func (s *Session) classOf(ctx context.Context, oid odb.OID) (odb.ClassDescriptor, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(oid)),
	})
	if keyNotFound(err) {
		return odb.ClassDescriptor{}, nil
	}
	if err != nil {
		return odb.ClassDescriptor{}, fmt.Errorf("head object %s failed, details: %w", oid, err)
	}
	cidStr := out.Metadata[metaCID]
	if cidStr == "" {
		return odb.ClassDescriptor{}, nil
	}
	cid, err := strconv.ParseUint(cidStr, 10, 32)
	if err != nil {
		return odb.ClassDescriptor{}, fmt.Errorf("object %s has bad class id %q", oid, cidStr)
	}
	return odb.ClassDescriptor{CID: odb.CID(cid), Name: out.Metadata[metaClassName]}, nil
}

func (s *Session) ClassInfoFor(ctx context.Context, oids []odb.OID) ([]odb.ClassDescriptor, error) {
	r := make([]odb.ClassDescriptor, len(oids))
	eg, ctx := s.group(ctx)
	for i, oid := range oids {
		eg.Go(func() error {
			var err error
			r[i], err = s.classOf(ctx, oid)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return r, nil
}

// RemoveFromExtent deletes the extent marker of the object. The object itself stays.
func (s *Session) RemoveFromExtent(ctx context.Context, oid odb.OID) error {
	d, err := s.classOf(ctx, oid)
	if err != nil || d.CID == 0 {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.extentKey(d.CID, oid)),
	})
	return err
}

// Extent lists the extent markers of the class in ascending identifier order.
func (s *Session) Extent(ctx context.Context, cid odb.CID) ([]odb.OID, error) {
	prefix := s.extentPrefix(cid)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var r []odb.OID
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			v, err := strconv.ParseUint(name, 16, 64)
			if err != nil {
				return nil, fmt.Errorf("extent of class %d has bad marker %q", cid, name)
			}
			r = append(r, odb.OID(v))
		}
	}
	slices.Sort(r)
	return r, nil
}
