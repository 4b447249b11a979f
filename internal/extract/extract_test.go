package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rag/internal/apperr"
)

func TestFetchTextHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Guide</title></head><body>
			<nav>skip this</nav>
			<article><h1>Install Guide</h1><p>Run the installer and follow the prompts.</p></article>
			</body></html>`))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{})
	text, err := f.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "Install Guide")
	assert.Contains(t, text, "Run the installer")
}

func TestFetchTextMarkdownPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Title\n\nSome body text."))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{})
	text, err := f.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nSome body text.", text)
}

func TestFetchTextBadScheme(t *testing.T) {
	f := NewFetcher(FetcherConfig{})
	_, err := f.FetchText(context.Background(), "ftp://example.com/doc")
	require.Error(t, err)
	assert.Equal(t, apperr.KindSourceInvalidURL, apperr.KindOf(err))
}

func TestFetchTextStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{})
	_, err := f.FetchText(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, apperr.KindSourceFetchFailed, apperr.KindOf(err))
}

func TestFetchTextEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{})
	_, err := f.FetchText(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, apperr.KindEmptySourceContent, apperr.KindOf(err))
}

func TestCleanPDFText(t *testing.T) {
	in := "instal-\nlation guide   \n\n\n\nnext section"
	out := cleanPDFText(in)
	assert.Equal(t, "installation guide\n\nnext section", out)
}
