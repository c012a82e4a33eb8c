package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	ctx := context.Background()
	require.NoError(t, probe(ctx, ok.URL+"/health", time.Second))

	err := probe(ctx, down.URL+"/health", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 503")

	assert.Error(t, probe(ctx, "http://127.0.0.1:1/health", time.Second))
}

func TestHealthcheckCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cmd := healthcheckCmd()
	cmd.SetArgs([]string{"--url", srv.URL})
	assert.NoError(t, cmd.ExecuteContext(context.Background()))
}
