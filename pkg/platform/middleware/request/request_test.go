package request

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type RequestMiddlewareSuite struct {
	suite.Suite
}

func TestRequestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(RequestMiddlewareSuite))
}

func (s *RequestMiddlewareSuite) TestRequestIDGenerated() {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	s.NotEmpty(captured)
	s.Equal(captured, rec.Header().Get("X-Request-ID"))
}

func (s *RequestMiddlewareSuite) TestRequestIDClientProvided() {
	handler := RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	s.Run("valid id is kept", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "abc-123.DEF")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		s.Equal("abc-123.DEF", rec.Header().Get("X-Request-ID"))
	})

	s.Run("invalid id is replaced", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "bad id\nwith newline")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		s.NotEqual("bad id\nwith newline", rec.Header().Get("X-Request-ID"))
		s.NotEmpty(rec.Header().Get("X-Request-ID"))
	})

	s.Run("oversized id is replaced", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("a", MaxRequestIDLength+1))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		s.LessOrEqual(len(rec.Header().Get("X-Request-ID")), MaxRequestIDLength)
	})
}

func (s *RequestMiddlewareSuite) TestRecovery() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	s.NotPanics(func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *RequestMiddlewareSuite) TestBodyLimit() {
	handler := BodyLimit(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RequestMiddlewareSuite) TestContentTypeJSON() {
	handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	s.Equal(http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code)
}
