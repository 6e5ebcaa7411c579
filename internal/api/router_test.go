package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passrelay/passrelay/internal/api"
	"github.com/passrelay/passrelay/internal/api/models"
	"github.com/passrelay/passrelay/internal/pass"
	"github.com/passrelay/passrelay/internal/passkit"
	"github.com/passrelay/passrelay/internal/pkpass"
	"github.com/passrelay/passrelay/internal/registration"
)

const (
	testAdminKey = "test-admin-key"
	testPassType = "pass.example.card"
)

// syncNotifier records change announcements synchronously so tests can assert
// on them without sleeping.
type syncNotifier struct {
	mu      sync.Mutex
	serials []string
}

func (n *syncNotifier) PassChanged(_ context.Context, serialNumber string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.serials = append(n.serials, serialNumber)
}

func (n *syncNotifier) Serials() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.serials...)
}

type testEnv struct {
	router   http.Handler
	notifier *syncNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zerolog.New(io.Discard)

	passes := pass.NewInMemoryRepository()
	regs := registration.NewInMemoryRepository()
	passes.SetCascade(regs)

	signer := pkpass.NewBundleSigner(pkpass.BundleSignerConfig{
		WebServiceURL: "https://passes.example.com",
		TeamID:        "TEAM456",
		SignManifest: func(manifest []byte) ([]byte, error) {
			return []byte("test-signature"), nil
		},
	})

	notifier := &syncNotifier{}

	passService := pass.NewService(pass.ServiceConfig{
		Repo:               passes,
		PassTypeIdentifier: testPassType,
		Notifier:           notifier,
		Logger:             logger,
	})

	passKitService := passkit.NewService(passkit.ServiceConfig{
		Passes:        passes,
		Registrations: regs,
		Signer:        signer,
		Logger:        logger,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:        "test",
		BuildTime:      "2026-01-01T00:00:00Z",
		Logger:         logger,
		AdminAPIKey:    testAdminKey,
		PassKitService: passKitService,
		PassService:    passService,
	})

	return &testEnv{router: router, notifier: notifier}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, auth string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createPass issues a pass through the operator API and returns the serial
// number and full authentication token.
func (e *testEnv) createPass(t *testing.T) (string, string) {
	t.Helper()

	w := e.do(t, http.MethodPost, "/v1/admin/passes", models.PassCreateRequest{
		Description:      "Membership card",
		OrganizationName: "Acme",
		Message:          "Welcome",
	}, "Bearer "+testAdminKey)
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.PassResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.SerialNumber)
	require.NotEmpty(t, created.AuthenticationToken)

	return created.SerialNumber, created.AuthenticationToken
}

func registrationPath(serial string) string {
	return "/v1/devices/device-1/registrations/" + testPassType + "/" + serial
}

func TestRouter_HealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/ops/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
}

func TestRouter_ReadinessCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/ops/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_CreatePass(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/admin/passes", models.PassCreateRequest{
		Description: "Membership card",
	}, "Bearer "+testAdminKey)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get("Location"))

	var created models.PassResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, testPassType, created.PassTypeIdentifier)
	assert.Len(t, created.AuthenticationToken, 32)
}

func TestRouter_CreatePass_RequiresAdminKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/admin/passes", models.PassCreateRequest{
		Description: "Membership card",
	}, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRouter_CreatePass_DuplicateSerial(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, http.MethodPost, "/v1/admin/passes", models.PassCreateRequest{
		SerialNumber: "member-001",
		Description:  "Membership card",
	}, "Bearer "+testAdminKey)
	require.Equal(t, http.StatusCreated, first.Code)

	second := env.do(t, http.MethodPost, "/v1/admin/passes", models.PassCreateRequest{
		SerialNumber: "member-001",
		Description:  "Membership card",
	}, "Bearer "+testAdminKey)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestRouter_GetPass_MasksToken(t *testing.T) {
	env := newTestEnv(t)
	serial, token := env.createPass(t)

	w := env.do(t, http.MethodGet, "/v1/admin/passes/"+serial, nil, "Bearer "+testAdminKey)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.PassResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Empty(t, got.AuthenticationToken, "full token is returned only on creation")
	assert.Equal(t, token[len(token)-4:], got.TokenLast4)
}

func TestRouter_RegisterDevice(t *testing.T) {
	env := newTestEnv(t)
	serial, token := env.createPass(t)

	// First registration answers 201 with an empty body.
	w := env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{PushToken: "push-abc"}, "ApplePass "+token)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Body.String())

	// Registering again answers 200.
	w = env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{PushToken: "push-abc"}, "ApplePass "+token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RegisterDevice_WrongToken(t *testing.T) {
	env := newTestEnv(t)
	serial, _ := env.createPass(t)

	w := env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{PushToken: "push-abc"}, "ApplePass wrong-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RegisterDevice_MissingAuth(t *testing.T) {
	env := newTestEnv(t)
	serial, _ := env.createPass(t)

	w := env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{PushToken: "push-abc"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RegisterDevice_MissingPushToken(t *testing.T) {
	env := newTestEnv(t)
	serial, token := env.createPass(t)

	w := env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{}, "ApplePass "+token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_UnregisterDevice(t *testing.T) {
	env := newTestEnv(t)
	serial, token := env.createPass(t)

	w := env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{PushToken: "push-abc"}, "ApplePass "+token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodDelete, registrationPath(serial), nil, "ApplePass "+token)
	assert.Equal(t, http.StatusOK, w.Code)

	// Unregistering again still answers 200.
	w = env.do(t, http.MethodDelete, registrationPath(serial), nil, "ApplePass "+token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ListUpdatedSerials(t *testing.T) {
	env := newTestEnv(t)
	serial, token := env.createPass(t)

	w := env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{PushToken: "push-abc"}, "ApplePass "+token)
	require.Equal(t, http.StatusCreated, w.Code)

	// No passesUpdatedSince: everything counts as updated.
	w = env.do(t, http.MethodGet, "/v1/devices/device-1/registrations/"+testPassType, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var updated models.UpdatedSerialsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, []string{serial}, updated.SerialNumbers)
	assert.NotEmpty(t, updated.LastUpdated)

	// A marker past the last change filters the quiet pass out. The echoed
	// lastUpdated is truncated to seconds, so use a clearly later mark here.
	later := time.Now().UTC().Add(time.Minute).Format(time.RFC3339)
	w = env.do(t, http.MethodGet,
		"/v1/devices/device-1/registrations/"+testPassType+"?passesUpdatedSince="+later, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var quiet models.UpdatedSerialsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quiet))
	assert.Empty(t, quiet.SerialNumbers)
}

func TestRouter_FetchUpdatedPass(t *testing.T) {
	env := newTestEnv(t)
	serial, token := env.createPass(t)

	w := env.do(t, http.MethodGet, "/v1/passes/"+testPassType+"/"+serial, nil, "ApplePass "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.pkpass", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), serial+".pkpass")
	assert.NotEmpty(t, w.Body.Bytes())
	// A zip archive starts with PK.
	assert.Equal(t, []byte{'P', 'K'}, w.Body.Bytes()[:2])
}

func TestRouter_FetchUpdatedPass_WrongToken(t *testing.T) {
	env := newTestEnv(t)
	serial, _ := env.createPass(t)

	w := env.do(t, http.MethodGet, "/v1/passes/"+testPassType+"/"+serial, nil, "ApplePass wrong-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_FetchUpdatedPass_UnknownSerial(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createPass(t)

	w := env.do(t, http.MethodGet, "/v1/passes/"+testPassType+"/unknown", nil, "ApplePass "+token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Log(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/log", models.LogRequest{
		Logs: []string{"Pass download failed for serial X"},
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_UpdateMessage_TriggersNotification(t *testing.T) {
	env := newTestEnv(t)
	serial, token := env.createPass(t)

	w := env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{PushToken: "push-abc"}, "ApplePass "+token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPut, "/v1/admin/passes/"+serial+"/message",
		models.PassMessageRequest{Message: "Updated offer"}, "Bearer "+testAdminKey)
	assert.Equal(t, http.StatusOK, w.Code)

	var updated models.PassResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Updated offer", updated.Message)

	assert.Equal(t, []string{serial}, env.notifier.Serials())
}

// TestRouter_UpdateCycle walks the full update flow: register, change the
// message, check for updated serials, fetch the fresh bundle, unregister.
func TestRouter_UpdateCycle(t *testing.T) {
	env := newTestEnv(t)
	serial, token := env.createPass(t)

	w := env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{PushToken: "push-abc"}, "ApplePass "+token)
	require.Equal(t, http.StatusCreated, w.Code)

	// Initial check establishes the device's marker.
	w = env.do(t, http.MethodGet, "/v1/devices/device-1/registrations/"+testPassType, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var initial models.UpdatedSerialsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &initial))
	marker := initial.LastUpdated

	// Wait past the marker's RFC3339 second resolution, then change content.
	time.Sleep(1100 * time.Millisecond)

	w = env.do(t, http.MethodPut, "/v1/admin/passes/"+serial+"/message",
		models.PassMessageRequest{Message: "New content"}, "Bearer "+testAdminKey)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{serial}, env.notifier.Serials())

	// The woken device asks what changed since its marker.
	w = env.do(t, http.MethodGet,
		"/v1/devices/device-1/registrations/"+testPassType+"?passesUpdatedSince="+marker, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var changed models.UpdatedSerialsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &changed))
	require.Equal(t, []string{serial}, changed.SerialNumbers)

	// It fetches the refreshed bundle.
	w = env.do(t, http.MethodGet, "/v1/passes/"+testPassType+"/"+serial, nil, "ApplePass "+token)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/vnd.apple.pkpass", w.Header().Get("Content-Type"))

	// Pass removed from Wallet: the device unsubscribes.
	w = env.do(t, http.MethodDelete, registrationPath(serial), nil, "ApplePass "+token)
	require.Equal(t, http.StatusOK, w.Code)

	// No further update checks reach it; the store no longer lists it.
	w = env.do(t, http.MethodGet, "/v1/devices/device-1/registrations/"+testPassType, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var after models.UpdatedSerialsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	require.Empty(t, after.SerialNumbers)
}

func TestRouter_DeletePass_CascadesRegistrations(t *testing.T) {
	env := newTestEnv(t)
	serial, token := env.createPass(t)

	w := env.do(t, http.MethodPost, registrationPath(serial),
		models.RegisterDeviceRequest{PushToken: "push-abc"}, "ApplePass "+token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodDelete, "/v1/admin/passes/"+serial, nil, "Bearer "+testAdminKey)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// The device's update check no longer sees the pass.
	w = env.do(t, http.MethodGet, "/v1/devices/device-1/registrations/"+testPassType, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var after models.UpdatedSerialsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	assert.Empty(t, after.SerialNumbers)

	// And the pass itself answers 404 to a fetch.
	w = env.do(t, http.MethodGet, "/v1/passes/"+testPassType+"/"+serial, nil, "ApplePass "+token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/nonexistent", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
