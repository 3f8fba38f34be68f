package httpapi

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/logging"
	"github.com/R3E-Network/droplink/internal/middleware"
	"github.com/R3E-Network/droplink/services/droplink"
)

const testCallerHeader = "X-Test-Caller"

var (
	senderAddr   = chain.MustParseAddress("0x5e00000000000000000000000000000000000001")
	receiverAddr = chain.MustParseAddress("0x7ec0000000000000000000000000000000000002")
)

// headerAuth trusts a test header instead of a JWT.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get(testCallerHeader); v != "" {
			r = r.WithContext(middleware.WithCaller(r.Context(), chain.MustParseAddress(v)))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter(t *testing.T, now uint64) (*mux.Router, *droplink.TestEnv) {
	t.Helper()
	env := droplink.NewTestEnv(now)
	r := mux.NewRouter()
	New(env.Service, logging.NewDiscard("httpapi-test")).Register(r, headerAuth)
	return r, env
}

func do(t *testing.T, r http.Handler, method, path string, caller *chain.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req.Header.Set(testCallerHeader, caller.Hex())
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func hexOf(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	rec := do(t, r, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestCreateClaimAndView(t *testing.T) {
	r, env := newTestRouter(t, 500)
	gk, err := droplink.NewGatekeeper()
	require.NoError(t, err)

	rec := do(t, r, http.MethodPost, "/drops", &senderAddr, CreateDropInput{
		ID:         "42",
		Gatekeeper: gk.Address.Hex(),
		ExpiresAt:  1000,
		Amount:     "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, r, http.MethodGet, "/drops/42", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view DropResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.True(t, view.Active)
	require.Equal(t, "100", view.Amount)
	require.Equal(t, senderAddr, view.Sender)

	id, _ := droplink.ParseDropID("42")
	rec = do(t, r, http.MethodPost, "/drops/0x2a/claim", nil, ClaimDropInput{
		Receiver:       receiverAddr.Hex(),
		AgentSignature: hexOf(gk.SignClaim(id, receiverAddr)),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result droplink.SettlementResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, droplink.PathAgent, result.Path)
	require.Equal(t, int64(100), env.Settler.Balance(receiverAddr).Int64())

	rec = do(t, r, http.MethodPost, "/drops/42/claim", nil, ClaimDropInput{
		Receiver:       receiverAddr.Hex(),
		AgentSignature: hexOf(gk.SignClaim(id, receiverAddr)),
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "DROP_INACTIVE", errorCode(t, rec))
}

func TestCreateDrop_RequiresCaller(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	rec := do(t, r, http.MethodPost, "/drops", nil, CreateDropInput{ID: "1", Amount: "1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateDrop_ValidationErrors(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	tests := []struct {
		name  string
		input CreateDropInput
	}{
		{"bad id", CreateDropInput{ID: "zz", Amount: "1"}},
		{"bad amount", CreateDropInput{ID: "1", Amount: "-5"}},
		{"bad gatekeeper", CreateDropInput{ID: "1", Amount: "1", Gatekeeper: "0x12"}},
		{"bad key", CreateDropInput{ID: "1", Amount: "1", PubKeyX: "0xzz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/drops", &senderAddr, tt.input)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, "INVALID_FORMAT", errorCode(t, rec))
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/drops", strings.NewReader(`{"id":"1","unknown":true}`))
	req.Header.Set(testCallerHeader, senderAddr.Hex())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDrop_Duplicate(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	input := CreateDropInput{ID: "7", Amount: "1", ExpiresAt: 10}
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/drops", &senderAddr, input).Code)

	rec := do(t, r, http.MethodPost, "/drops", &senderAddr, input)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "DROP_EXISTS", errorCode(t, rec))
}

func TestClaim_MalformedAgentSignature(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	gk, err := droplink.NewGatekeeper()
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/drops", &senderAddr,
		CreateDropInput{ID: "9", Gatekeeper: gk.Address.Hex(), ExpiresAt: 10, Amount: "1"}).Code)

	rec := do(t, r, http.MethodPost, "/drops/9/claim", nil, ClaimDropInput{
		Receiver:       receiverAddr.Hex(),
		AgentSignature: hexOf(make([]byte, 64)),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "MALFORMED_AGENT_SIGNATURE", errorCode(t, rec))
}

func TestClaim_BadReceiver(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	rec := do(t, r, http.MethodPost, "/drops/1/claim", nil, ClaimDropInput{Receiver: "nobody"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReclaim(t *testing.T) {
	r, env := newTestRouter(t, 0)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/drops", &senderAddr,
		CreateDropInput{ID: "11", ExpiresAt: 10, Amount: "25"}).Code)

	rec := do(t, r, http.MethodPost, "/drops/11/reclaim", &senderAddr, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "NOT_YET_EXPIRED", errorCode(t, rec))

	env.Clock.Set(11)
	rec = do(t, r, http.MethodPost, "/drops/11/reclaim", &receiverAddr, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "NOT_SENDER", errorCode(t, rec))

	rec = do(t, r, http.MethodPost, "/drops/11/reclaim", &senderAddr, ReclaimDropInput{GasLimit: 50_000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, int64(25), env.Settler.Balance(senderAddr).Int64())
}

func TestGetDrop_Absent(t *testing.T) {
	r, _ := newTestRouter(t, 0)
	rec := do(t, r, http.MethodGet, "/drops/0xdead", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view DropResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.False(t, view.Active)
	require.Equal(t, chain.ZeroAddress, view.Sender)
	require.Equal(t, "0", view.Amount)

	rec = do(t, r, http.MethodGet, "/drops/not-a-number", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
