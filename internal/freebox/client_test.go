package freebox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCarriesSessionHeader(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get(SessionHeader)
		fmt.Fprint(w, `{"success":true,"result":[]}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetSession("tok")
	_, err := c.VMs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", header)
}

func TestRequestEnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"msg":"no such vm","error_code":"noent"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).VM(context.Background(), 7)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "no such vm", apiErr.Msg)
	assert.Equal(t, "noent", apiErr.Code)
}

func TestRequestForbiddenIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(srv.URL).VMs(context.Background())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAddDownloadSendsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "http://example.com/img.qcow2", r.PostForm.Get("download_url"))
		assert.Equal(t, "ZGly", r.PostForm.Get("download_dir"))
		assert.Empty(t, r.PostForm.Get("hash"), "empty optional fields are omitted")
		fmt.Fprint(w, `{"success":true,"result":{"id":99}}`)
	}))
	defer srv.Close()

	id, err := New(srv.URL).AddDownload(context.Background(), DownloadRequest{
		DownloadURL: "http://example.com/img.qcow2",
		DownloadDir: "ZGly",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)
}

func TestTrackIDAcceptsNumberAndString(t *testing.T) {
	var grant AuthorizeGrant
	require.NoError(t, grant.TrackID.UnmarshalJSON([]byte(`42`)))
	assert.Equal(t, TrackID("42"), grant.TrackID)
	require.NoError(t, grant.TrackID.UnmarshalJSON([]byte(`"t1"`)))
	assert.Equal(t, TrackID("t1"), grant.TrackID)
}

func TestDialWSNegotiatesSubprotocolAndHeader(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"base64"}}
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get(SessionHeader)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetSession("tok")
	conn, proto, err := c.DialWS(context.Background(), "/vm/1/vnc", []string{"binary", "base64"})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "tok", header)
	assert.Equal(t, "base64", proto)
}
