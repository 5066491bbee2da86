package fileserver

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Минимальный валидный 1x1 PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
	0x42, 0x60, 0x82,
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndServe(t *testing.T) {
	svc := New(t.TempDir(), 5<<20)

	body, ct := multipartBody(t, "photo.png", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	svc.Upload(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "image/png", resp.ContentType)
	assert.Equal(t, "photo.png", resp.FileName)
	assert.Equal(t, ".png", path.Ext(resp.URL))

	// Раздача возвращает исходные байты (хранение — gzip, отдача — распакованная).
	serveReq := httptest.NewRequest(http.MethodGet, resp.URL, nil)
	serveRec := httptest.NewRecorder()
	svc.Serve(serveRec, serveReq, path.Base(resp.URL))
	require.Equal(t, http.StatusOK, serveRec.Code)
	assert.Equal(t, "image/png", serveRec.Header().Get("Content-Type"))
	got, err := io.ReadAll(serveRec.Body)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got)
}

func TestUploadRejectsNonImage(t *testing.T) {
	svc := New(t.TempDir(), 5<<20)

	body, ct := multipartBody(t, "notes.txt", []byte("plain text, not an image"))
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	svc.Upload(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsSpoofedExtension(t *testing.T) {
	svc := New(t.TempDir(), 5<<20)

	// Расширение .png, содержимое — не картинка.
	body, ct := multipartBody(t, "fake.png", []byte("<script>alert(1)</script>"))
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	svc.Upload(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeMissingFile(t *testing.T) {
	svc := New(t.TempDir(), 5<<20)
	rec := httptest.NewRecorder()
	svc.Serve(rec, httptest.NewRequest(http.MethodGet, "/api/files/none.png", nil), "none.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
