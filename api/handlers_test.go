/*
handlers_test.go - HTTP-level tests for the note lifecycle API

Tests for:
- Actor resolution and role mapping to statuses
- Create/approve/issue over HTTP
- Error taxonomy to status-code mapping
- Artifact download and audit trail endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archit2501/insurance-brokerage-system-sub000/notes"
	"github.com/archit2501/insurance-brokerage-system-sub000/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveClient(ctx, sqlite.Party{ID: "cl-1", Name: "Acme Ltd", Active: true}))
	require.NoError(t, store.SaveInsurer(ctx, sqlite.Party{ID: "ins-1", Name: "Leadway", Active: true}))
	require.NoError(t, store.SavePolicy(ctx, sqlite.Policy{ID: "pol-1", ClientID: "cl-1", Active: true}))

	binder := notes.NewBinder(notes.TextRenderer{}, store)
	svc := notes.NewService(store, store, binder, notes.LogDispatcher{}, nil).
		WithClock(func() time.Time { return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC) })

	return NewRouter(NewHandler(svc, store))
}

func doRequest(t *testing.T, router http.Handler, method, path, body, actorID, role string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set("X-Actor-Id", actorID)
		req.Header.Set("X-Actor-Role", role)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const createBody = `{
	"note_type": "CN",
	"client_id": "cl-1",
	"policy_id": "pol-1",
	"insurer_id": "ins-1",
	"gross_premium": "100000",
	"brokerage_pct": "10",
	"vat_pct": "7.5",
	"agent_commission_pct": "2",
	"levies": {"niacom": "50", "ncrib": "25", "ed_tax": "10"}
}`

func createNote(t *testing.T, router http.Handler) NoteDTO {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/notes", createBody, "u-clerk", "clerk")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var dto NoteDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	return dto
}

// =============================================================================
// CREATE TESTS
// =============================================================================

func TestCreateNote_HTTP(t *testing.T) {
	router := newTestRouter(t)

	dto := createNote(t, router)
	assert.Equal(t, "CN/2025/000001", dto.DocumentNumber)
	assert.Equal(t, "draft", dto.Status)
	assert.Equal(t, "89165.00", dto.Breakdown.NetAmountDue)
	assert.Equal(t, "u-clerk", dto.PreparedBy)
}

func TestCreateNote_MissingActor_Unauthorized(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/notes", createBody, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateNote_UnknownRole_Unauthorized(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/notes", createBody, "u-x", "superuser")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateNote_BadType_BadRequest(t *testing.T) {
	router := newTestRouter(t)

	body := `{"note_type": "XX", "client_id": "cl-1", "policy_id": "pol-1"}`
	rec := doRequest(t, router, http.MethodPost, "/api/notes", body, "u-clerk", "clerk")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateNote_SuppliedNumber_BadRequest(t *testing.T) {
	router := newTestRouter(t)

	body := `{
		"note_type": "CN", "document_number": "CN/2025/999999",
		"client_id": "cl-1", "policy_id": "pol-1", "insurer_id": "ins-1",
		"gross_premium": "1000", "brokerage_pct": "10", "vat_pct": "0",
		"agent_commission_pct": "0", "levies": {"niacom": "0", "ncrib": "0", "ed_tax": "0"}
	}`
	rec := doRequest(t, router, http.MethodPost, "/api/notes", body, "u-clerk", "clerk")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateNote_UnknownClient_NotFound(t *testing.T) {
	router := newTestRouter(t)

	body := `{
		"note_type": "CN", "client_id": "cl-ghost", "policy_id": "pol-1",
		"insurer_id": "ins-1", "gross_premium": "1000", "brokerage_pct": "10",
		"vat_pct": "0", "agent_commission_pct": "0",
		"levies": {"niacom": "0", "ncrib": "0", "ed_tax": "0"}
	}`
	rec := doRequest(t, router, http.MethodPost, "/api/notes", body, "u-clerk", "clerk")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestLifecycle_HTTP(t *testing.T) {
	// GIVEN: A draft created by a clerk
	// WHEN: Underwriting approves and accounts issues over HTTP
	// THEN: Statuses advance, the artifact downloads, and the trail lists
	//       every step

	router := newTestRouter(t)
	dto := createNote(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/approve", "", "u-uw", "underwriting")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved NoteDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "u-uw", approved.AuthorizedBy)

	rec = doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/issue", "", "u-acc", "accounts")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var issued NoteDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	assert.Equal(t, "issued", issued.Status)
	assert.NotEmpty(t, issued.ArtifactHash)

	// Artifact download streams the stored bytes.
	rec = doRequest(t, router, http.MethodGet, "/api/notes/"+dto.ID+"/artifact", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), dto.DocumentNumber)
	assert.Equal(t, issued.ArtifactHash, rec.Header().Get("X-Artifact-Hash"))

	// Verification confirms the stored hash.
	rec = doRequest(t, router, http.MethodGet, "/api/notes/"+dto.ID+"/verify", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var verify VerifyDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.True(t, verify.Match)

	// The audit trail lists create, approve, issue in order.
	rec = doRequest(t, router, http.MethodGet, "/api/notes/"+dto.ID+"/audit", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trail []AuditEntryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trail))
	require.Len(t, trail, 3)
	assert.Equal(t, "CREATE", trail[0].Action)
	assert.Equal(t, "APPROVE", trail[1].Action)
	assert.Equal(t, "ISSUE", trail[2].Action)
}

func TestApprove_WrongRole_Conflict(t *testing.T) {
	router := newTestRouter(t)
	dto := createNote(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/approve", "", "u-clerk", "clerk")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIssue_Draft_Conflict(t *testing.T) {
	router := newTestRouter(t)
	dto := createNote(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/issue", "", "u-acc", "accounts")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIssue_Twice_Conflict(t *testing.T) {
	router := newTestRouter(t)
	dto := createNote(t, router)

	doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/approve", "", "u-uw", "underwriting")
	rec := doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/issue", "", "u-acc", "accounts")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/issue", "", "u-acc", "accounts")
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errDTO ErrorDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errDTO))
	assert.Contains(t, errDTO.Detail, "already issued")
}

func TestGetNote_Unknown_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/notes/ghost", "", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// LIST AND LOOKUP TESTS
// =============================================================================

func TestListNotes_ByDocumentNumber(t *testing.T) {
	// Document numbers contain slashes, so lookup rides a query parameter.
	router := newTestRouter(t)
	dto := createNote(t, router)

	rec := doRequest(t, router, http.MethodGet,
		"/api/notes?document_number=CN%2F2025%2F000001", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []NoteDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, dto.ID, list[0].ID)

	rec = doRequest(t, router, http.MethodGet,
		"/api/notes?document_number=CN%2F2025%2F999999", "", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListNotes_StatusFilter(t *testing.T) {
	router := newTestRouter(t)
	dto := createNote(t, router)
	doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/approve", "", "u-uw", "underwriting")
	createNote(t, router)

	rec := doRequest(t, router, http.MethodGet, "/api/notes?status=draft", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []NoteDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "draft", list[0].Status)
}

// =============================================================================
// UPDATE TESTS
// =============================================================================

func TestUpdateNote_Draft(t *testing.T) {
	router := newTestRouter(t)
	dto := createNote(t, router)

	body := `{
		"insurer_id": "ins-1",
		"gross_premium": "200000", "brokerage_pct": "10", "vat_pct": "7.5",
		"agent_commission_pct": "2",
		"levies": {"niacom": "50", "ncrib": "25", "ed_tax": "10"}
	}`
	rec := doRequest(t, router, http.MethodPut, "/api/notes/"+dto.ID, body, "u-clerk", "clerk")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated NoteDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "20000.00", updated.Breakdown.BrokerageAmount)
	assert.Equal(t, dto.DocumentNumber, updated.DocumentNumber)
}

func TestUpdateNote_ApprovedFrozen_Conflict(t *testing.T) {
	router := newTestRouter(t)
	dto := createNote(t, router)
	doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/approve", "", "u-uw", "underwriting")

	body := `{
		"insurer_id": "ins-1",
		"gross_premium": "1", "brokerage_pct": "0", "vat_pct": "0",
		"agent_commission_pct": "0",
		"levies": {"niacom": "0", "ncrib": "0", "ed_tax": "0"}
	}`
	rec := doRequest(t, router, http.MethodPut, "/api/notes/"+dto.ID, body, "u-clerk", "clerk")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// DISPATCH TESTS
// =============================================================================

func TestDispatchNote_HTTP(t *testing.T) {
	router := newTestRouter(t)
	dto := createNote(t, router)
	doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/approve", "", "u-uw", "underwriting")
	doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/issue", "", "u-acc", "accounts")

	rec := doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/dispatch",
		`{"recipients": ["client@acme.test"]}`, "u-acc", "accounts")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result DispatchDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Delivered)
	assert.Equal(t, []string{"client@acme.test"}, result.Recipients)
}

func TestDispatchNote_NoRecipients_BadRequest(t *testing.T) {
	router := newTestRouter(t)
	dto := createNote(t, router)

	rec := doRequest(t, router, http.MethodPost, "/api/notes/"+dto.ID+"/dispatch",
		`{"recipients": []}`, "u-acc", "accounts")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestRegistrySeeding_HTTP(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/registry/clients",
		`{"id": "cl-2", "name": "Globex"}`, "", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/registry/policies",
		`{"id": "pol-2", "client_id": "cl-2"}`, "", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	body := `{
		"note_type": "DN", "client_id": "cl-2", "policy_id": "pol-2",
		"gross_premium": "5000", "brokerage_pct": "10", "vat_pct": "0",
		"agent_commission_pct": "0", "levies": {"niacom": "0", "ncrib": "0", "ed_tax": "0"}
	}`
	rec = doRequest(t, router, http.MethodPost, "/api/notes", body, "u-clerk", "clerk")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
