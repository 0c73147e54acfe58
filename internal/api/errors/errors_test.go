package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError_Format(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "файл не найден")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("статус = %d, ожидается 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("декодирование: %v", err)
	}
	if body.Error.Code != CodeNotFound || body.Error.Message != "файл не найден" {
		t.Errorf("тело = %+v", body)
	}
}

func TestBlobStoreUnavailable_RetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	BlobStoreUnavailable(rec, "timeout")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("статус = %d, ожидается 503", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != retryAfterSeconds {
		t.Errorf("Retry-After = %q, ожидается %q", got, retryAfterSeconds)
	}
}
