package apierror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWrite_EncodesEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, http.StatusServiceUnavailable, &Error{Type: ErrUnavailable, Message: "draining", Code: "draining", RequestID: "req_1"})

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content-type=%q", ct)
	}
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error == nil || env.Error.Type != ErrUnavailable || env.Error.Code != "draining" || env.Error.RequestID != "req_1" {
		t.Fatalf("envelope=%+v", env.Error)
	}
}

func TestWrite_NilErrorBecomesInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, http.StatusInternalServerError, nil)

	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error == nil || env.Error.Type != ErrAPI {
		t.Fatalf("envelope=%+v", env.Error)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[ErrorType]int{
		ErrInvalidRequest: http.StatusBadRequest,
		ErrNotFound:       http.StatusNotFound,
		ErrUnavailable:    http.StatusServiceUnavailable,
		ErrAPI:            http.StatusInternalServerError,
	}
	for typ, want := range cases {
		if got := StatusFor(typ); got != want {
			t.Fatalf("StatusFor(%s)=%d, want %d", typ, got, want)
		}
	}
}

func TestWrite_ZeroStatusFromType(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, 0, &Error{Type: ErrNotFound, Message: "not found"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}
