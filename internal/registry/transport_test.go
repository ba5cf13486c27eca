package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransport(retries int) *Transport {
	return NewTransport(TransportConfig{
		Retries: retries,
		Timeout: 5 * time.Second,
	})
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"app"}`))
	}))
	defer srv.Close()

	resp, err := testTransport(0).Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())

	var body struct {
		Name string `json:"name"`
	}
	require.NoError(t, resp.DecodeJSON(&body))
	assert.Equal(t, "app", body.Name)
}

func TestDoRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := testTransport(3).Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(3), hits.Load())
}

func TestDoExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testTransport(2).Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load(), "one initial attempt plus two retries")

	var regErr *Error
	assert.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusInternalServerError, regErr.StatusCode)
}

func TestDoClientErrorsAreTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := testTransport(3).Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err, "4xx comes back as a response, not an error")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.Equal(t, int32(1), hits.Load(), "client errors must not be retried")
}

func TestDoRetriesNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	url := srv.URL
	srv.Close()

	_, err := testTransport(1).Do(context.Background(), http.MethodGet, url, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestDoRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewTransport(TransportConfig{Retries: 5, Throttle: time.Hour, Timeout: 5 * time.Second})
	_, err := tr.Do(ctx, http.MethodGet, srv.URL, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoSendsHeaders(t *testing.T) {
	var gotAuth, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewTransport(TransportConfig{Timeout: 5 * time.Second, UserAgent: "regclean-test"})
	headers := http.Header{}
	headers.Set("Authorization", "Bearer token")
	_, err := tr.Do(context.Background(), http.MethodGet, srv.URL, headers, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer token", gotAuth)
	assert.Equal(t, "regclean-test", gotUA)
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		resp    *Response
		wantErr bool
	}{
		{
			name: "json content type",
			resp: &Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
				Body:       []byte(`{"ok":true}`),
			},
		},
		{
			name: "manifest content type",
			resp: &Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"application/vnd.oci.image.manifest.v1+json"}},
				Body:       []byte(`{"ok":true}`),
			},
		},
		{
			name: "empty body is a no-op",
			resp: &Response{StatusCode: http.StatusNoContent},
		},
		{
			name: "html body rejected",
			resp: &Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"text/html"}},
				Body:       []byte("<html></html>"),
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v struct {
				OK bool `json:"ok"`
			}
			err := tt.resp.DecodeJSON(&v)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
