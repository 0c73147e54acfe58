package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const testBucket = "vault-blobs"

// fakeS3 - минимальный S3-сервер (path-style) для тестов.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	deletes int
	// failAll - отвечать 500 на все запросы
	failAll bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAll {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != testBucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if key == "" {
		// HeadBucket
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.Method {
	case http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		f.puts++
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`))
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		f.deletes++
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func newTestS3Client(t *testing.T, endpoint string) *s3.Client {
	t.Helper()
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	client, err := NewS3Client(context.Background(), S3ClientConfig{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test-secret",
		MaxAttempts:     1,
	})
	if err != nil {
		t.Fatalf("NewS3Client: %v", err)
	}
	return client
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(context.Background(), newTestS3Client(t, srv.URL), testBucket, "blobs/")
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	return store, fake
}

func TestS3Store_PutIdempotent(t *testing.T) {
	store, fake := newTestS3Store(t)
	ctx := context.Background()

	in := PutInput{
		ContentID:    helloID,
		Body:         bytes.NewReader([]byte("hello")),
		Size:         5,
		MimeType:     "text/plain",
		ResourceType: ResourceRaw,
	}

	first, err := store.Put(ctx, in)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !first.Created {
		t.Error("первый Put должен создать объект")
	}
	wantLocator := "s3://" + testBucket + "/blobs/" + helloID
	if first.Locator != wantLocator {
		t.Errorf("Locator = %q, ожидался %q", first.Locator, wantLocator)
	}

	in.Body = bytes.NewReader([]byte("hello"))
	second, err := store.Put(ctx, in)
	if err != nil {
		t.Fatalf("повторный Put: %v", err)
	}
	if second.Created {
		t.Error("повторный Put не должен создавать объект")
	}
	if second.Locator != first.Locator {
		t.Errorf("Locator = %q, ожидался %q", second.Locator, first.Locator)
	}
	if fake.puts != 1 {
		t.Errorf("PutObject вызван %d раз, ожидался 1", fake.puts)
	}
}

func TestS3Store_OpenAndExists(t *testing.T) {
	store, fake := newTestS3Store(t)
	ctx := context.Background()

	fake.objects["blobs/"+helloID] = []byte("hello")

	ok, err := store.Exists(ctx, helloID)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; ожидалось true", ok, err)
	}

	rc, err := store.Open(ctx, helloID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Errorf("содержимое = %q, ожидалось %q", data, "hello")
	}

	missing := strings.Repeat("a", 64)
	ok, err = store.Exists(ctx, missing)
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v; ожидалось false", ok, err)
	}
	if _, err := store.Open(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) = %v, ожидалась ErrNotFound", err)
	}
}

func TestS3Store_Delete(t *testing.T) {
	store, fake := newTestS3Store(t)
	ctx := context.Background()

	fake.objects["blobs/"+helloID] = []byte("hello")

	if err := store.Delete(ctx, helloID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if fake.has("blobs/" + helloID) {
		t.Error("объект не удалён")
	}
	// Повторное удаление - не ошибка
	if err := store.Delete(ctx, helloID); err != nil {
		t.Errorf("повторный Delete: %v", err)
	}
}

func TestS3Store_Unavailable(t *testing.T) {
	store, fake := newTestS3Store(t)
	ctx := context.Background()

	fake.mu.Lock()
	fake.failAll = true
	fake.mu.Unlock()

	_, err := store.Put(ctx, PutInput{
		ContentID: helloID,
		Body:      bytes.NewReader([]byte("hello")),
		Size:      5,
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Put = %v, ожидалась ErrUnavailable", err)
	}
	if err := store.Delete(ctx, helloID); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Delete = %v, ожидалась ErrUnavailable", err)
	}
	if err := store.Check(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Check = %v, ожидалась ErrUnavailable", err)
	}
}

func TestS3Store_InvalidContentID(t *testing.T) {
	store, _ := newTestS3Store(t)
	ctx := context.Background()

	if err := store.Delete(ctx, "../etc/passwd"); !errors.Is(err, ErrInvalidContentID) {
		t.Errorf("Delete = %v, ожидалась ErrInvalidContentID", err)
	}
	if _, err := store.Open(ctx, "ABC"); !errors.Is(err, ErrInvalidContentID) {
		t.Errorf("Open = %v, ожидалась ErrInvalidContentID", err)
	}
}

func TestNewS3Store_MissingBucket(t *testing.T) {
	srv := httptest.NewServer(newFakeS3())
	defer srv.Close()

	_, err := NewS3Store(context.Background(), newTestS3Client(t, srv.URL), "other-bucket", "")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("NewS3Store = %v, ожидалась ErrUnavailable", err)
	}
}

func TestS3Store_PresignGet(t *testing.T) {
	store, _ := newTestS3Store(t)

	url, err := store.PresignGet(context.Background(), helloID, "отчёт 2024.png", 10*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.Contains(url, "/"+testBucket+"/blobs/"+helloID) {
		t.Errorf("URL %q не содержит ключ объекта", url)
	}
	if !strings.Contains(url, "X-Amz-Expires=600") {
		t.Errorf("URL %q не содержит срок действия", url)
	}
	if !strings.Contains(url, "response-content-disposition=") {
		t.Errorf("URL %q не содержит Content-Disposition", url)
	}
}
