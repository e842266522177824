package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/workflow-approval/directory"
	"github.com/songzhibin97/workflow-approval/fixtures"
	"github.com/songzhibin97/workflow-approval/metrics"
	"github.com/songzhibin97/workflow-approval/types"
	"github.com/songzhibin97/workflow-approval/workflow"
)

type testServer struct {
	server  *Server
	store   *workflow.WorkflowStore
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir, err := directory.NewStatic(fixtures.Staff())
	require.NoError(t, err)
	store, err := workflow.NewWorkflowStore(context.Background(), nil,
		workflow.WithInitial(fixtures.Workflows()),
		workflow.WithDirectory(dir))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg, store)
	require.NoError(t, err)

	srv := NewServer(ServerConfig{Mode: gin.TestMode}, store, dir, WithMetrics(m, reg))
	return &testServer{server: srv, store: store, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestServer_ApprovalFlow(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{
		Name:              "New License Application Review",
		Stages:            []types.Stage{{Name: "Intake", AssignedToRole: "Licensing Officer", SLADays: 3}},
		RequiredApprovers: []string{"reg_001", "reg_002"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[WorkflowResponse](t, w)
	assert.Equal(t, "wf_005", created.ID)
	assert.Equal(t, "/api/v1/workflows/wf_005", w.Header().Get("Location"))
	assert.Equal(t, types.StatusDraft, created.Status)
	assert.Equal(t, []string{"RequestApproval", "Edit", "Delete"}, created.Actions)
	assert.Contains(t, w.Body.String(), `"status":"Draft"`)

	w = ts.do(t, http.MethodPost, "/api/v1/workflows/wf_005/request-approval", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"Pending Approval"`)

	w = ts.do(t, http.MethodPost, "/api/v1/workflows/wf_005/approvals", ApproveRequest{StaffID: "reg_001"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pending := decode[WorkflowResponse](t, w)
	assert.Equal(t, []string{"reg_002"}, pending.PendingApprovers)

	w = ts.do(t, http.MethodPost, "/api/v1/workflows/wf_005/approvals", ApproveRequest{StaffID: "reg_001"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, workflow.KindDuplicateApproval, decode[ErrorResponse](t, w).Error)

	w = ts.do(t, http.MethodPost, "/api/v1/workflows/wf_005/approvals", ApproveRequest{StaffID: "reg_008"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, workflow.KindNotEligibleApprover, decode[ErrorResponse](t, w).Error)

	w = ts.do(t, http.MethodPost, "/api/v1/workflows/wf_005/approvals", ApproveRequest{StaffID: "reg_002"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	active := decode[WorkflowResponse](t, w)
	assert.Equal(t, types.StatusActive, active.Status)
	assert.Len(t, active.Approvals, 2)
	assert.Empty(t, active.PendingApprovers)

	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RejectionsTotal.WithLabelValues(workflow.KindDuplicateApproval)))
}

func TestServer_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   int
		kind   string
	}{
		{"not found", http.MethodGet, "/api/v1/workflows/wf_404", nil, http.StatusNotFound, workflow.KindNotFound},
		{"approve draft", http.MethodPost, "/api/v1/workflows/wf_002/approvals", ApproveRequest{StaffID: "reg_001"}, http.StatusConflict, workflow.KindInvalidState},
		{"suspend draft", http.MethodPost, "/api/v1/workflows/wf_002/suspend", nil, http.StatusConflict, workflow.KindInvalidState},
		{"reactivate active", http.MethodPost, "/api/v1/workflows/wf_001/reactivate", nil, http.StatusConflict, workflow.KindInvalidState},
		{"edit active", http.MethodPatch, "/api/v1/workflows/wf_001", map[string]string{"name": "x"}, http.StatusConflict, workflow.KindEditNotAllowed},
		{"delete pending", http.MethodDelete, "/api/v1/workflows/wf_003", nil, http.StatusConflict, workflow.KindDeleteNotAllowed},
		{"missing staff id", http.MethodPost, "/api/v1/workflows/wf_003/approvals", map[string]string{}, http.StatusBadRequest, KindInvalidRequest},
		{"missing name", http.MethodPost, "/api/v1/workflows", map[string]string{"description": "x"}, http.StatusBadRequest, KindInvalidRequest},
		{"unknown approver", http.MethodPost, "/api/v1/workflows", CreateWorkflowRequest{Name: "x", RequiredApprovers: []string{"reg_404"}}, http.StatusBadRequest, workflow.KindInvalidDefinition},
		{"bad status filter", http.MethodGet, "/api/v1/workflows?status=Archived", nil, http.StatusBadRequest, KindInvalidRequest},
		{"unknown staff", http.MethodGet, "/api/v1/staff/reg_404", nil, http.StatusNotFound, workflow.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.kind, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestServer_ListAndFilter(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[[]WorkflowResponse](t, w)
	require.Len(t, all, 4)
	assert.Equal(t, "wf_001", all[0].ID)
	assert.Equal(t, "wf_004", all[3].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/workflows?status=Pending%20Approval&status=Suspended", nil)
	require.Equal(t, http.StatusOK, w.Code)
	some := decode[[]WorkflowResponse](t, w)
	require.Len(t, some, 2)
	assert.Equal(t, "wf_003", some[0].ID)
	assert.Equal(t, []string{"reg_007"}, some[0].PendingApprovers)
	assert.Equal(t, "wf_004", some[1].ID)
}

func TestServer_UpdateAndDelete(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPatch, "/api/v1/workflows/wf_004", map[string]interface{}{
		"requiredApprovers": []string{"reg_006", "reg_007"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[WorkflowResponse](t, w)
	assert.Equal(t, types.StatusDraft, updated.Status)
	assert.Empty(t, updated.Approvals)
	assert.Equal(t, "Emergency Sanction Review", updated.Name)

	w = ts.do(t, http.MethodDelete, "/api/v1/workflows/wf_004", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/workflows/wf_004", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StaffAndHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/staff", nil)
	require.Equal(t, http.StatusOK, w.Code)
	staff := decode[[]types.StaffMember](t, w)
	assert.Len(t, staff, 8)

	w = ts.do(t, http.MethodGet, "/api/v1/staff/reg_005", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Eve Moneypenny", decode[types.StaffMember](t, w).Name)

	w = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "workflow_"), w.Body.String())
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(workflow.KindOf(workflow.ErrPersistence)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(workflow.KindOf(errors.New("boom"))))
	assert.Equal(t, http.StatusConflict, StatusCode(workflow.KindIllegalTransition))
}
