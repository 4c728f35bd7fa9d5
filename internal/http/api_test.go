package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/repository/sqlite"
	"lid-inspector/internal/service"
	"lid-inspector/internal/storage"
	"lid-inspector/internal/watcher"
)

const registrationSecret = "line-secret"

type fakeManager struct {
	mu       sync.Mutex
	status   watcher.Status
	cleared  int
	settings domain.Settings
	subs     []chan watcher.Event
}

func (f *fakeManager) Start(context.Context) error { return nil }
func (f *fakeManager) Shutdown()                   {}

func (f *fakeManager) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.status.Counters = domain.Counters{}
	return nil
}

func (f *fakeManager) Status() watcher.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeManager) Settings() domain.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeManager) UpdateSettings(_ context.Context, s domain.Settings) error {
	if !s.Valid() {
		return watcher.ErrInvalidSettings
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
	f.status.Settings = s
	return nil
}

func (f *fakeManager) Subscribe() (<-chan watcher.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan watcher.Event, 4)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeManager) publish(ev watcher.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- ev
	}
}

type testAPI struct {
	router      *gin.Engine
	manager     *fakeManager
	inspections service.InspectionService
	dir         string
}

type fakeStorage struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeStorage) UploadFile(context.Context, string, storage.UploadOptions) (string, error) {
	return "", nil
}

func (f *fakeStorage) UploadBytes(context.Context, []byte, storage.UploadOptions) (string, error) {
	return "", nil
}

func (f *fakeStorage) ListObjects(_ context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	return []storage.ObjectInfo{{Key: prefix + "2026-03-02/abc/1.jpg", Size: 2048}}, nil
}

func (f *fakeStorage) DeletePrefix(_ context.Context, bucket, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, storage.Location(bucket, prefix))
	return nil
}

func (f *fakeStorage) GetObjectURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://" + bucket + ".example/" + key + "?signed", nil
}

func newTestAPI(t *testing.T) *testAPI {
	return newTestAPIWithStorage(t, nil, "")
}

func newTestAPIWithStorage(t *testing.T, store storage.Service, bucket string) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.OpenStore(context.Background(), filepath.Join(t.TempDir(), "inspector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tokens, err := service.NewTokenIssuer("0123456789abcdef-test", time.Hour)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	mgr := &fakeManager{status: watcher.Status{
		WatchDir: "/frames",
		Current:  "7.jpg",
		Counters: domain.Counters{Accepted: 4, Rejected: 2},
		Settings: domain.Settings{Strictness: 3},
	}}
	inspections := service.NewInspectionService(db.Inspections, db.State)

	router := gin.New()
	NewHandler(Deps{
		Inspections: inspections,
		Manager:     mgr,
		Storage:     store,
		Bucket:      bucket,
		Users:       service.NewUserService(db.Users, registrationSecret),
		Tokens:      tokens,
		Logger:      logger,
	}).RegisterRoutes(router)

	return &testAPI{router: router, manager: mgr, inspections: inspections, dir: t.TempDir()}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": "op", "password": "longenough", "registration_password": registrationSecret,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "op", "password": "longenough"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (a *testAPI) record(t *testing.T, in *domain.Inspection) *domain.Inspection {
	t.Helper()
	require.NoError(t, a.inspections.Record(context.Background(), in))
	return in
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 90, G: 60, B: 40, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestHealthAndStatus(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "7.jpg", status.Current)
	assert.Equal(t, int64(4), status.Counters.Accepted)
	assert.Equal(t, int64(2), status.Counters.Rejected)
	assert.Equal(t, 3, status.Settings.Strictness)
	assert.Nil(t, status.ClearedAt)
}

func TestListAndGetInspections(t *testing.T) {
	api := newTestAPI(t)
	first := api.record(t, &domain.Inspection{FileName: "1.jpg", Verdict: domain.VerdictAccept, Reason: "clean", Confidence: 92, Strictness: 3})
	api.record(t, &domain.Inspection{FileName: "2.jpg", Verdict: domain.VerdictReject, Reason: "dent", Confidence: -1, Strictness: 3})

	rec := api.do(t, http.MethodGet, "/api/inspections?limit=10", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []InspectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = api.do(t, http.MethodGet, "/api/inspections/"+itoa(first.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got InspectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "1.jpg", got.FileName)
	assert.True(t, got.Accepted)
	require.NotNil(t, got.Confidence)
	assert.Equal(t, 92, *got.Confidence)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/inspections/999", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/inspections/abc", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/inspections?limit=-1", nil, "").Code)
}

func TestStatsScopes(t *testing.T) {
	api := newTestAPI(t)
	api.record(t, &domain.Inspection{FileName: "1.jpg", Verdict: domain.VerdictAccept, Confidence: -1, Strictness: 3})
	api.record(t, &domain.Inspection{FileName: "2.jpg", Verdict: domain.VerdictError, Confidence: -1, Strictness: 3})

	rec := api.do(t, http.MethodGet, "/api/stats?scope=all", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, StatsResponse{Total: 2, Accepted: 1, Errored: 1}, stats)

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/stats?scope=week", nil, "").Code)
}

func TestInspectionImageViews(t *testing.T) {
	api := newTestAPI(t)
	path := filepath.Join(api.dir, "5.png")
	writePNG(t, path, 800, 600)
	in := api.record(t, &domain.Inspection{FileName: "5.png", Path: path, Verdict: domain.VerdictAccept, Confidence: -1, Strictness: 3})

	for _, view := range []string{"raw", "cleaned"} {
		rec := api.do(t, http.MethodGet, "/api/inspections/"+itoa(in.ID)+"/image?view="+view, nil, "")
		require.Equal(t, http.StatusOK, rec.Code, view)
		assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

		img, format, err := image.Decode(rec.Body)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 400, img.Bounds().Dx())
		assert.Equal(t, 300, img.Bounds().Dy())
	}

	rec := api.do(t, http.MethodGet, "/api/inspections/"+itoa(in.ID)+"/image?view=thermal", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, os.Remove(path))
	rec = api.do(t, http.MethodGet, "/api/inspections/"+itoa(in.ID)+"/image", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPut, "/api/settings", gin.H{"strictness": 4}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(t, http.MethodPut, "/api/settings", gin.H{"strictness": 4}, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": "op", "password": "longenough", "registration_password": "nope",
	}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	token := api.login(t)

	rec = api.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": "op", "password": "longenough", "registration_password": registrationSecret,
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "op", "password": "wrong-pass"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/settings", gin.H{"strictness": 5, "no_brand": true}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.Settings{Strictness: 5, NoBrand: true}, api.manager.Settings())

	rec = api.do(t, http.MethodGet, "/api/operators", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var ops []UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "op", ops[0].Username)
	assert.NotNil(t, ops[0].LastLoginAt)
}

func TestUpdateSettingsValidation(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t)

	rec := api.do(t, http.MethodPut, "/api/settings", gin.H{"strictness": 9}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodPut, "/api/settings", gin.H{"no_brand": true}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.Settings{}, api.manager.Settings())
}

func TestClear(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t)

	rec := api.do(t, http.MethodPost, "/api/clear", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Zero(t, status.Counters.Accepted)
	assert.Equal(t, 1, api.manager.cleared)
}

func TestDeleteInspection(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t)

	resultPath := filepath.Join(api.dir, "3.json")
	require.NoError(t, os.WriteFile(resultPath, []byte(`{}`), 0o644))
	in := api.record(t, &domain.Inspection{FileName: "3.jpg", ResultPath: resultPath, Verdict: domain.VerdictReject, Confidence: -1, Strictness: 3})

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodDelete, "/api/inspections/"+itoa(in.ID), nil, "").Code)

	rec := api.do(t, http.MethodDelete, "/api/inspections/"+itoa(in.ID), nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoFileExists(t, resultPath)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/inspections/"+itoa(in.ID), nil, "").Code)
}

func TestStorageRoutesWithoutStorage(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t)
	in := api.record(t, &domain.Inspection{FileName: "1.jpg", Verdict: domain.VerdictAccept, Confidence: -1, Strictness: 3})

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/storage/objects", nil, token).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/inspections/"+itoa(in.ID)+"/archive-url", nil, token).Code)
}

func TestStorageRoutes(t *testing.T) {
	remote := &fakeStorage{}
	api := newTestAPIWithStorage(t, remote, "lids")
	token := api.login(t)
	in := api.record(t, &domain.Inspection{FileName: "1.jpg", Verdict: domain.VerdictAccept, Confidence: -1, Strictness: 3})
	require.NoError(t, api.inspections.MarkArchived(context.Background(), in.ID, "s3://lids/inspections/2026-03-02/abc/1.jpg"))

	rec := api.do(t, http.MethodGet, "/api/storage/objects?prefix=inspections/", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var objects []StorageObjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &objects))
	require.Len(t, objects, 1)
	assert.Equal(t, "inspections/2026-03-02/abc/1.jpg", objects[0].Key)

	rec = api.do(t, http.MethodGet, "/api/inspections/"+itoa(in.ID)+"/archive-url", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://lids.example/inspections/2026-03-02/abc/1.jpg")

	rec = api.do(t, http.MethodDelete, "/api/inspections/"+itoa(in.ID)+"?delete_remote=true", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"s3://lids/inspections/2026-03-02/abc/"}, remote.deleted)
}

func TestStreamDeliversSnapshotAndEvents(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first EventMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	require.NotNil(t, first.Status)
	assert.Equal(t, "7.jpg", first.Status.Current)

	api.manager.publish(watcher.Event{
		Type:       watcher.EventInspection,
		Inspection: &domain.Inspection{ID: 11, FileName: "8.jpg", Verdict: domain.VerdictAccept, Confidence: 88},
		Counters:   domain.Counters{Accepted: 5, Rejected: 2},
		Settings:   domain.Settings{Strictness: 3},
	})

	var next EventMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "inspection", next.Type)
	require.NotNil(t, next.Inspection)
	assert.Equal(t, "8.jpg", next.Inspection.FileName)
	require.NotNil(t, next.Counters)
	assert.Equal(t, int64(5), next.Counters.Accepted)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
