package s3

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
)

// fakeS3 answers the subset of the S3 REST API the store uses.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	requests int
	pageSize int
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req), nil
	}

	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeAWSChunked(body)
		}
		f.objects[key] = body
		return response(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodHead:
		body, ok := f.objects[key]
		if !ok {
			return response(http.StatusNotFound, nil, nil), nil
		}
		return response(http.StatusOK, nil, http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"ETag":           {`"etag"`},
			"Last-Modified":  {time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}), nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return response(http.StatusNotFound,
				[]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`),
				http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return response(http.StatusOK, body, http.Header{"Content-Length": {strconv.Itoa(len(body))}}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return response(http.StatusNoContent, nil, nil), nil
	}
	return response(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	start, _ := strconv.Atoi(req.URL.Query().Get("continuation-token"))

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult>`)
	if end < len(keys) {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%d</NextContinuationToken>", end)
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys[start:end] {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k]))
	}
	b.WriteString("</ListBucketResult>")
	return response(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func response(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header}
}

// decodeAWSChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n ... 0\r\n<trailers>".
func decodeAWSChunked(b []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return out
		}
		sizeField := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		n, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil || n == 0 {
			return out
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return out
		}
		out = append(out, chunk...)
		_, _ = r.ReadString('\n')
	}
}

func newFakeStore(t *testing.T, prefix string, pageSize int) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte), pageSize: pageSize}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String("https://fake.s3.local")
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return NewWithClient(client, "bundles", prefix, 0), fake
}

func TestStoreBasicFlow(t *testing.T) {
	ctx := context.Background()
	st, fake := newFakeStore(t, "runs/sample.zarr", 0)
	assert.Equal(t, core.DriverS3, st.Driver())
	assert.Equal(t, "s3://bundles/runs/sample.zarr", st.Location())

	require.NoError(t, core.PutBytes(ctx, st, ".zgroup", []byte(`{"zarr_format":2}`)))
	require.NoError(t, core.PutBytes(ctx, st, "images/dapi/0/0.0.0", []byte("chunk")))

	assert.Contains(t, fake.objects, "runs/sample.zarr/.zgroup", "keys are stored under the prefix")

	data, err := core.ReadAll(ctx, st, "images/dapi/0/0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "chunk", string(data))

	info, err := st.Head(ctx, ".zgroup")
	require.NoError(t, err)
	assert.Equal(t, int64(17), info.Size)

	infos, err := st.List(ctx, "images/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "images/dapi/0/0.0.0", infos[0].Key)

	deleted, err := st.Delete(ctx, ".zgroup")
	require.NoError(t, err)
	assert.True(t, deleted)

	ok, err := core.Exists(ctx, st, ".zgroup")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	st, _ := newFakeStore(t, "", 0)

	_, _, err := st.Get(ctx, "missing/.zattrs")
	assert.True(t, errors.Is(err, core.ErrNotFound), "got %v", err)

	_, err = st.Head(ctx, "missing/.zattrs")
	assert.True(t, errors.Is(err, core.ErrNotFound), "got %v", err)
}

func TestStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	st, _ := newFakeStore(t, "b", 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, core.PutBytes(ctx, st, fmt.Sprintf("labels/cells/0/%d.0", i), []byte{byte(i)}))
	}

	infos, err := st.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, infos, 5)
	assert.Equal(t, "labels/cells/0/0.0", infos[0].Key)

	require.NoError(t, core.Reset(ctx, st))
	infos, err = st.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	st, _ := newFakeStore(t, "b", 0)
	_, err := st.Put(context.Background(), "../other/.zgroup", strings.NewReader("{}"))
	assert.True(t, errors.Is(err, core.ErrInvalidKey))
}

func TestRateLimiterPacesRequests(t *testing.T) {
	st, _ := newFakeStore(t, "", 0)
	paced := NewWithClient(st.client, "bundles", "", 1000)
	require.NotNil(t, paced.limiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := paced.Head(ctx, "x")
	assert.Error(t, err, "a cancelled context stops the limiter wait")
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewWithStaticCredentials(t *testing.T) {
	st, err := New(context.Background(), Config{
		Bucket:          "bkt",
		Prefix:          "/nested/bundle/",
		Endpoint:        "https://minio.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://bkt/nested/bundle", st.Location())
}
