package aws_s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/encoding"
	"github.com/sharedcode/odb/inmemory"
)

type fakeObject struct {
	body     []byte
	metadata map[string]string
}

// fakeBucket is an in-memory Client. Listings return two keys per page.
type fakeBucket struct {
	lock    sync.Mutex
	objects map[string]fakeObject
	puts    int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string]fakeObject)}
}

func (b *fakeBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	o, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.body)), Metadata: o.metadata}, nil
}

func (b *fakeBucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	b.puts++
	b.objects[aws.ToString(in.Key)] = fakeObject{body: body, metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (b *fakeBucket) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	o, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: o.metadata, ContentLength: aws.Int64(int64(len(o.body)))}, nil
}

func (b *fakeBucket) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (b *fakeBucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > 2 {
		keys = keys[:2]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func newTestSession(t *testing.T, bucket Client) *Session {
	t.Helper()
	s, err := NewSession(bucket, Config{Bucket: "objects", Prefix: "db1/"}, inmemory.NewSession(), encoding.CompressionZSTD)
	require.NoError(t, err)
	return s
}

func TestNewSession_Validates(t *testing.T) {
	_, err := NewSession(nil, Config{Bucket: "b"}, nil, encoding.CompressionNone)
	assert.Error(t, err)
	_, err = NewSession(newFakeBucket(), Config{}, nil, encoding.CompressionNone)
	assert.Error(t, err)

	s, err := NewSession(newFakeBucket(), Config{Bucket: "b"}, nil, encoding.CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxConcurrency, s.maxConcurrency)
	_, err = s.AllocateIdentifierBlock(context.Background(), 1, 1)
	assert.Error(t, err)
}

func TestSession_StoreAndLoad(t *testing.T) {
	bucket := newFakeBucket()
	s := newTestSession(t, bucket)
	ctx := context.Background()

	const cid odb.CID = 4
	oids, err := s.AllocateIdentifierBlock(ctx, cid, 5)
	require.NoError(t, err)
	require.Len(t, oids, 5)
	assert.Equal(t, uint16(4), oids[0].ClassIndex())

	big := bytes.Repeat([]byte("abc"), 500)
	var records []odb.ObjectRecord
	for i, oid := range oids[:4] {
		data := []byte{byte(i)}
		if i == 0 {
			data = big
		}
		records = append(records, odb.ObjectRecord{OID: oid, CID: cid, ClassName: "thing", Data: data, IsNew: true})
	}
	require.NoError(t, s.StoreObjectBytes(ctx, records))
	// One object and one extent marker per new record.
	assert.Equal(t, 8, bucket.puts)
	assert.Less(t, len(bucket.objects[s.objectKey(oids[0])].body), len(big))

	data, err := s.LoadObjectBytes(ctx, []odb.OID{oids[0], oids[4], oids[2]})
	require.NoError(t, err)
	assert.Equal(t, big, data[0])
	assert.Nil(t, data[1])
	assert.Equal(t, []byte{2}, data[2])

	// Rewriting an existing record adds no marker.
	require.NoError(t, s.StoreObjectBytes(ctx, []odb.ObjectRecord{{OID: oids[2], CID: cid, ClassName: "thing", Data: []byte("v2")}}))
	assert.Equal(t, 9, bucket.puts)
	data, err = s.LoadObjectBytes(ctx, []odb.OID{oids[2]})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data[0])
}

func TestSession_ClassInfoAndExtent(t *testing.T) {
	s := newTestSession(t, newFakeBucket())
	ctx := context.Background()
	const cid odb.CID = 9
	oids, err := s.AllocateIdentifierBlock(ctx, cid, 5)
	require.NoError(t, err)
	var records []odb.ObjectRecord
	for i := len(oids) - 1; i >= 0; i-- {
		records = append(records, odb.ObjectRecord{OID: oids[i], CID: cid, ClassName: "widget", Data: []byte("w"), IsNew: true})
	}
	require.NoError(t, s.StoreObjectBytes(ctx, records))

	descs, err := s.ClassInfoFor(ctx, []odb.OID{oids[1], odb.NewOID(9, 1000)})
	require.NoError(t, err)
	assert.Equal(t, odb.ClassDescriptor{CID: cid, Name: "widget"}, descs[0])
	assert.Zero(t, descs[1])

	// Five markers span three listing pages.
	ext, err := s.Extent(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, oids, ext)

	require.NoError(t, s.RemoveFromExtent(ctx, oids[2]))
	require.NoError(t, s.RemoveFromExtent(ctx, odb.NewOID(9, 1000)))
	ext, err = s.Extent(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, []odb.OID{oids[0], oids[1], oids[3], oids[4]}, ext)
	data, err := s.LoadObjectBytes(ctx, []odb.OID{oids[2]})
	require.NoError(t, err)
	assert.Equal(t, []byte("w"), data[0])

	ext, err = s.Extent(ctx, cid+1)
	require.NoError(t, err)
	assert.Empty(t, ext)
}

type mockClient struct {
	mock.Mock
	Client
}

func (m *mockClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func TestSession_PropagatesErrors(t *testing.T) {
	m := new(mockClient)
	s, err := NewSession(m, Config{Bucket: "objects", MaxConcurrency: 1}, nil, encoding.CompressionNone)
	require.NoError(t, err)
	ctx := context.Background()
	denied := errors.New("access denied")

	m.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "objects" && aws.ToString(in.Key) == s.objectKey(7)
	})).Return(nil, denied).Once()
	err = s.StoreObjectBytes(ctx, []odb.ObjectRecord{{OID: 7, CID: 1, Data: []byte("x"), IsNew: true}})
	assert.ErrorIs(t, err, denied)

	m.On("GetObject", mock.Anything, mock.Anything).Return(nil, denied).Once()
	_, err = s.LoadObjectBytes(ctx, []odb.OID{7})
	assert.ErrorIs(t, err, denied)

	m.On("GetObject", mock.Anything, mock.Anything).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("xy")),
	}, nil).Once()
	_, err = s.LoadObjectBytes(ctx, []odb.OID{7})
	assert.Error(t, err)
	m.AssertExpectations(t)
}
