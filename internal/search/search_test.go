package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSearch(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/web_search", r.URL.Path)
		assert.Equal(t, "Bearer zk", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"search_result":[{"title":"Go","link":"https://go.dev","content":"The Go language","media":"go.dev"}]}`))
	}))
	defer srv.Close()

	c := New("zk", srv.URL+"/", zap.NewNop().Sugar())
	res, err := c.Search(context.Background(), "golang channels", 3)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, Result{Title: "Go", URL: "https://go.dev", Content: "The Go language", Media: "go.dev"}, res[0])
	assert.Equal(t, "search-std", got.SearchEngine)
	assert.Equal(t, "golang channels", got.SearchQuery)
	assert.Equal(t, 3, got.Count)
}

func TestSearchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"search_result":[]}`))
	}))
	defer srv.Close()

	c := New("zk", srv.URL, zap.NewNop().Sugar())
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = time.Millisecond
	res, err := c.Search(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSearchClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New("zk", srv.URL, zap.NewNop().Sugar()).Search(context.Background(), "q", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSearchNotConfigured(t *testing.T) {
	_, err := New("", "http://unused", zap.NewNop().Sugar()).Search(context.Background(), "q", 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
