package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "enroll/pkg/domain-errors"
)

type HTTPUtilSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestHTTPUtilSuite(t *testing.T) {
	suite.Run(t, new(HTTPUtilSuite))
}

func (s *HTTPUtilSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

type payload struct {
	Name string `json:"name"`

	normalized bool
}

func (p *payload) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.normalized = true
}

func (p *payload) Validate() error {
	if p.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

func (s *HTTPUtilSuite) decode(body string) (*payload, bool, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	p, ok := DecodeAndPrepare[payload](rec, req, s.logger, req.Context(), "req-1")
	return p, ok, rec
}

func (s *HTTPUtilSuite) TestDecodeAndPrepare() {
	s.Run("valid body is normalized", func() {
		p, ok, _ := s.decode(`{"name": "  ada  "}`)
		s.Require().True(ok)
		s.Equal("ada", p.Name)
		s.True(p.normalized)
	})

	s.Run("malformed body", func() {
		_, ok, rec := s.decode(`{not json`)
		s.False(ok)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("validation failure", func() {
		_, ok, rec := s.decode(`{"name": "   "}`)
		s.False(ok)
		s.Equal(http.StatusBadRequest, rec.Code)

		var body map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal(string(dErrors.CodeValidation), body["error"])
		s.Equal("name is required", body["error_description"])
	})
}

func (s *HTTPUtilSuite) TestWriteError() {
	s.Run("user facing message is exposed", func() {
		rec := httptest.NewRecorder()
		WriteError(rec, dErrors.New(dErrors.CodeNotFound, "request not found"))
		s.Equal(http.StatusNotFound, rec.Code)

		var body map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal("request not found", body["error_description"])
	})

	s.Run("internal detail is withheld", func() {
		rec := httptest.NewRecorder()
		WriteError(rec, dErrors.New(dErrors.CodeInternal, "pg: connection refused"))
		s.Equal(http.StatusInternalServerError, rec.Code)

		var body map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Empty(body["error_description"])
	})

	s.Run("non-domain error maps to internal", func() {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("boom"))
		s.Equal(http.StatusInternalServerError, rec.Code)
	})
}

func (s *HTTPUtilSuite) TestDomainCodeToHTTPStatus() {
	cases := map[dErrors.Code]int{
		dErrors.CodeNotFound:     http.StatusNotFound,
		dErrors.CodeBadRequest:   http.StatusBadRequest,
		dErrors.CodeValidation:   http.StatusBadRequest,
		dErrors.CodeInvalidState: http.StatusConflict,
		dErrors.CodeUnauthorized: http.StatusUnauthorized,
		dErrors.CodeForbidden:    http.StatusForbidden,
		dErrors.CodeTimeout:      http.StatusGatewayTimeout,
		dErrors.CodeEvaluation:   http.StatusInternalServerError,
	}
	for code, want := range cases {
		s.Equal(want, DomainCodeToHTTPStatus(code), string(code))
	}
}
