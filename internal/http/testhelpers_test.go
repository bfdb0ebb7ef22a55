package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type submission struct {
	files []string
	moca  string
	meta  string
}

func (s submission) body(t *testing.T) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range s.files {
		fw, err := mw.CreateFormFile(formFieldFiles, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("scan-bytes"))
		require.NoError(t, err)
	}
	if s.moca != "" {
		require.NoError(t, mw.WriteField(formFieldScore, s.moca))
	}
	if s.meta != "" {
		require.NoError(t, mw.WriteField(formFieldMeta, s.meta))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s submission) request(t *testing.T) *http.Request {
	t.Helper()
	body, contentType := s.body(t)
	r := httptest.NewRequest(http.MethodPost, "/api/submit", body)
	r.Header.Set("Content-Type", contentType)
	return r
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}
