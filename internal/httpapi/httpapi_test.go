package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend/local"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/hub"
	"github.com/DoyleJ11/storefront-realtime/internal/store"
	"github.com/DoyleJ11/storefront-realtime/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h := hub.NewHub(ctx, zap.NewNop())
	s.SetPublisher(h)

	srv := httptest.NewServer(SetupRoutes(local.New(s, h), h, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, h
}

func call(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(data, &body))
	assert.NotEmpty(t, body.Error)
	return body.Code
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	status, data := call(t, http.MethodGet, srv.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), `"status":"ok"`)
}

func TestRest_CRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + RestPrefix + "/products"

	status, data := call(t, http.MethodPost, base, `{"id":"p1","name":"Lamp","price":30}`)
	require.Equal(t, http.StatusCreated, status, string(data))
	status, _ = call(t, http.MethodPost, base, `{"id":"p2","name":"Mug","price":8}`)
	require.Equal(t, http.StatusCreated, status)

	status, data = call(t, http.MethodGet, base+"?price=gt.10", "")
	require.Equal(t, http.StatusOK, status)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Lamp", rows[0]["name"])

	status, data = call(t, http.MethodGet, base+"?order=price.asc", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "p2", rows[0]["id"])

	status, data = call(t, http.MethodPatch, base+"/p1", `{"price":25}`)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Contains(t, string(data), `"price":25`)

	status, _ = call(t, http.MethodDelete, base+"/p1", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, data = call(t, http.MethodDelete, base+"/p1", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeNotFound, errorCode(t, data))
}

func TestRest_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	rest := srv.URL + RestPrefix

	cases := []struct {
		name, method, path, body string
		status                   int
		code                     string
	}{
		{"unknown table", http.MethodGet, "/users", "", http.StatusNotFound, CodeUnknownTable},
		{"bad operator", http.MethodGet, "/products?price=near.3", "", http.StatusBadRequest, CodeBadQuery},
		{"unknown column", http.MethodGet, "/products?colour=eq.red", "", http.StatusBadRequest, CodeBadQuery},
		{"invalid row", http.MethodPost, "/products", `{"name":""}`, http.StatusUnprocessableEntity, CodeBadRow},
		{"not json", http.MethodPost, "/products", `{`, http.StatusUnprocessableEntity, CodeBadRow},
		{"missing row", http.MethodPatch, "/products/nope", `{"price":1}`, http.StatusNotFound, CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, data := call(t, tc.method, rest+tc.path, tc.body)
			assert.Equal(t, tc.status, status, string(data))
			assert.Equal(t, tc.code, errorCode(t, data))
		})
	}
}

func TestRest_DuplicateIsConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + RestPrefix + "/products"

	status, _ := call(t, http.MethodPost, base, `{"id":"p1","name":"Lamp"}`)
	require.Equal(t, http.StatusCreated, status)
	status, data := call(t, http.MethodPost, base, `{"id":"p1","name":"Lamp"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeConflict, errorCode(t, data))
}

func TestRealtime_StreamsChanges(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + RealtimePath + "?table=products"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ready ws.Ready
	require.NoError(t, json.Unmarshal(data, &ready))
	assert.Equal(t, ws.TypeReady, ready.Type)
	assert.Equal(t, "public.products", ready.Topic)

	status, _ := call(t, http.MethodPost, srv.URL+RestPrefix+"/products", `{"id":"p1","name":"Lamp"}`)
	require.Equal(t, http.StatusCreated, status)

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var ev change.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, change.KindInsert, ev.Kind)
	assert.Equal(t, "p1", ev.ID)
}

func TestRealtime_RejectsUnknownTable(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := call(t, http.MethodGet, srv.URL+RealtimePath+"?table=users", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = call(t, http.MethodGet, srv.URL+RealtimePath, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestErrorForCode(t *testing.T) {
	for _, c := range errorCodes {
		assert.Equal(t, c.err, ErrorForCode(c.code))
	}
	assert.Nil(t, ErrorForCode(CodeInternal))
}
