package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/store/memory"
)

func newTestService(t *testing.T) (*Service, *Registry) {
	t.Helper()
	reg, err := New(Config{Store: memory.New()})
	require.NoError(t, err)
	return NewService(ServiceOptions{Registry: reg}), reg
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleRegisterReturns201WithAgentID(t *testing.T) {
	svc, _ := newTestService(t)
	router := svc.Router()

	body := registerRequest{
		AgentSpec: testSpec("http-agent"),
		Endpoint:  "http://10.1.1.1:8080",
	}
	rec := doJSON(t, router, http.MethodPost, "/agents", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result mesh.RegisterResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.AgentID)
}

func TestHandleRegisterRejectsInvalidSpec(t *testing.T) {
	svc, _ := newTestService(t)
	router := svc.Router()

	rec := doJSON(t, router, http.MethodPost, "/agents", registerRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHeartbeatNotModifiedReturns304(t *testing.T) {
	svc, reg := newTestService(t)
	router := svc.Router()

	result, err := reg.Register(context.Background(), testSpec("hb-agent"), "http://10.1.1.2:8080")
	require.NoError(t, err)
	rec0, err := reg.store.GetAgent(context.Background(), result.AgentID)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/agents/"+result.AgentID+"/heartbeat", heartbeatRequest{
		Status:      mesh.StatusHealthy,
		ContentHash: rec0.ContentHash,
	})
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestHandleDiscoverReturnsOrderedToolRefs(t *testing.T) {
	svc, reg := newTestService(t)
	router := svc.Router()

	_, err := reg.Register(context.Background(), testSpec("disc-agent"), "http://10.1.1.3:8080")
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/agents?capability=widgets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var refs []mesh.ToolRef
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refs))
	require.Len(t, refs, 1)
	assert.Equal(t, "do_thing", refs[0].FunctionName)
}

func TestHandleUnregisterReturns204(t *testing.T) {
	svc, reg := newTestService(t)
	router := svc.Router()

	result, err := reg.Register(context.Background(), testSpec("del-agent"), "http://10.1.1.4:8080")
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodDelete, "/agents/"+result.AgentID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleUnregisterUnknownAgentReturns404(t *testing.T) {
	svc, _ := newTestService(t)
	router := svc.Router()

	rec := doJSON(t, router, http.MethodDelete, "/agents/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTracesAcceptsSpanBatch(t *testing.T) {
	svc, _ := newTestService(t)
	router := svc.Router()

	rec := doJSON(t, router, http.MethodPost, "/traces", []map[string]any{
		{"trace_id": "t1", "span_id": "s1"},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
