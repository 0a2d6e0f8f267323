package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"crowd-radio/internal/db"
	"crowd-radio/internal/metrics"
	"crowd-radio/internal/station"
	"crowd-radio/internal/storage"
	"crowd-radio/internal/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	bobToken   = "0f8fad5b-d9cb-469f-a165-70867728950e"
	aliceToken = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	radioPass  = "hunter2"
)

// fakeConverter records submitted sources.
type fakeConverter struct {
	mu      sync.Mutex
	sources []string
}

func (f *fakeConverter) Submit(source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	return nil
}

type testServer struct {
	router    *gin.Engine
	store     *storage.Store
	converter *fakeConverter
	metrics   *metrics.Metrics
}

func setupTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()

	root := t.TempDir()
	store := storage.NewStore(storage.Layout{
		RecordingsDir: filepath.Join(root, "recordings"),
		ConvertedDir:  filepath.Join(root, "converted"),
	}, 0, zerolog.Nop())

	testDB, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })

	m := metrics.New(prometheus.NewRegistry())
	repo := station.NewSQLiteRepository(testDB)
	conv := &fakeConverter{}

	api := NewAPI(Deps{
		Store:       store,
		Streamer:    stream.NewStreamer(0, zerolog.Nop(), m),
		Converter:   conv,
		Frequencies: station.NewAllocator(repo, zerolog.Nop(), station.WithMetrics(m)),
		Stations:    station.NewDirectory(repo, store),
		Metrics:     m,
		Logger:      zerolog.Nop(),
	}, Options{
		MaxUploadBytes: maxUpload,
		RadioUsername:  "Melville",
		RadioPassword:  radioPass,
	})

	router := SetupRouter(api, RouterConfig{
		AllowedOrigins: []string{"http://localhost", "https://francoise.fm"},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("radio_up 1\n"))
		}),
		Metrics: m,
		Logger:  zerolog.Nop(),
	})

	return &testServer{router: router, store: store, converter: conv, metrics: m}
}

func bearer(name, token string) string {
	return "Bearer " + base64.StdEncoding.EncodeToString([]byte(name+token))
}

func (s *testServer) do(method, target, auth, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, name, token, body string) string {
	t.Helper()

	w := s.do("POST", "/audio", bearer(name, token), "audio/webm;codecs=opus", body)
	if w.Code != http.StatusOK {
		t.Fatalf("upload failed with status %d", w.Code)
	}
	return w.Header().Get("Location")
}

func TestHealthEndpoint(t *testing.T) {
	s := setupTestServer(t, 0)

	w := s.do("GET", "/health", "", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, 0)

	w := s.do("GET", "/metrics", "", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "radio_up") {
		t.Errorf("unexpected metrics response %d %q", w.Code, w.Body.String())
	}
}

func TestUploadEndpoint_StoresAndQueues(t *testing.T) {
	s := setupTestServer(t, 0)

	w := s.do("POST", "/audio", bearer("Bob", bobToken), "audio/webm;codecs=opus", "hello")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
	if got := w.Header().Get("Location"); got != "/audio/"+bobToken+"/Bob01.webm" {
		t.Errorf("unexpected Location %s", got)
	}

	path := filepath.Join(s.store.UserDir(bobToken), "Bob01.webm")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("recording not stored: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("unexpected contents %q", data)
	}
	if len(s.converter.sources) != 1 || s.converter.sources[0] != path {
		t.Errorf("expected %s to be queued, got %v", path, s.converter.sources)
	}

	if got := s.upload(t, "Bob", bobToken, "again"); got != "/audio/"+bobToken+"/Bob02.webm" {
		t.Errorf("second upload should take the next slot, got %s", got)
	}
	if got := testutil.ToFloat64(s.metrics.Uploads.WithLabelValues("ok")); got != 2 {
		t.Errorf("uploads ok = %v, want 2", got)
	}
}

func TestUploadEndpoint_DefaultExtension(t *testing.T) {
	s := setupTestServer(t, 0)

	w := s.do("POST", "/audio", bearer("Bob", bobToken), "application/octet-stream", "x")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); !strings.HasSuffix(got, "/Bob01.ogg") {
		t.Errorf("expected .ogg default, got %s", got)
	}
}

func TestUploadEndpoint_SanitisedName(t *testing.T) {
	s := setupTestServer(t, 0)

	loc := s.upload(t, "Zoé/../x", bobToken, "x")
	if !strings.HasSuffix(loc, "/Zo%C3%A9____x01.webm") {
		t.Errorf("unexpected Location %s", loc)
	}

	// The escaped Location is playable as-is.
	w := s.do("GET", loc, "", "", "")
	if w.Code != http.StatusOK || w.Body.String() != "x" {
		t.Errorf("playback of %s failed: %d", loc, w.Code)
	}
}

func TestUploadEndpoint_Truncated(t *testing.T) {
	s := setupTestServer(t, 4)

	loc := s.upload(t, "Bob", bobToken, "hello world")

	data, err := os.ReadFile(filepath.Join(s.store.UserDir(bobToken), filepath.Base(loc)))
	if err != nil {
		t.Fatalf("recording not stored: %v", err)
	}
	if string(data) != "hell" {
		t.Errorf("expected first 4 bytes to be kept, got %q", data)
	}
	if len(s.converter.sources) != 1 {
		t.Errorf("truncated upload should still be converted")
	}
}

func TestUploadEndpoint_InvalidIdentity(t *testing.T) {
	s := setupTestServer(t, 0)

	tests := map[string]string{
		"missing":     "",
		"not bearer":  "Basic abc",
		"not base64":  "Bearer !!!",
		"no uuid":     bearer("Bob", "not-a-uuid"),
		"empty name":  bearer("", bobToken),
		"bad charset": "Bearer a-b",
	}

	for name, auth := range tests {
		t.Run(name, func(t *testing.T) {
			w := s.do("POST", "/audio", auth, "audio/ogg", "x")
			if w.Code != http.StatusNotFound {
				t.Errorf("expected status 404, got %d", w.Code)
			}
			if w.Body.Len() != 0 {
				t.Errorf("expected empty body, got %q", w.Body.String())
			}
		})
	}

	if len(s.converter.sources) != 0 {
		t.Errorf("nothing should be queued, got %v", s.converter.sources)
	}
}

func TestUploadEndpoint_QueryStringRejected(t *testing.T) {
	s := setupTestServer(t, 0)

	w := s.do("POST", "/audio?debug=1", bearer("Bob", bobToken), "audio/ogg", "x")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if _, err := os.Stat(s.store.UserDir(bobToken)); !os.IsNotExist(err) {
		t.Error("no user directory should be created")
	}
}

func TestListOwnEndpoint(t *testing.T) {
	s := setupTestServer(t, 0)

	if w := s.do("GET", "/audio", bearer("Bob", bobToken), "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any upload, got %d", w.Code)
	}

	first := s.upload(t, "Bob", bobToken, "one")
	second := s.upload(t, "Bob", bobToken, "two")
	// Another display name under the same token is not listed.
	s.upload(t, "Robert", bobToken, "three")

	w := s.do("GET", "/audio", bearer("Bob", bobToken), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var paths []string
	if err := json.Unmarshal(w.Body.Bytes(), &paths); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(paths) != 2 || paths[0] != first || paths[1] != second {
		t.Errorf("expected [%s %s], got %v", first, second, paths)
	}
}

func TestListOwnHashesEndpoint(t *testing.T) {
	s := setupTestServer(t, 0)
	loc := s.upload(t, "Bob", bobToken, "hello")

	w := s.do("GET", "/recordings", bearer("Bob", bobToken), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var files []RecordingFile
	if err := json.Unmarshal(w.Body.Bytes(), &files); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(files) != 1 || files[0].Path != loc || files[0].Hash != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("unexpected files %+v", files)
	}
}

func TestPlayRecordingEndpoint_Range(t *testing.T) {
	s := setupTestServer(t, 0)
	body := strings.Repeat("0123456789", 10)
	loc := s.upload(t, "Bob", bobToken, body)

	req := httptest.NewRequest("GET", loc, nil)
	req.Header.Set("Range", "bytes=90-150")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusPartialContent {
		t.Fatalf("expected status 206, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 90-99/100" {
		t.Errorf("unexpected Content-Range %s", got)
	}
	if w.Body.String() != body[90:] {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestPlayRecordingEndpoint_Errors(t *testing.T) {
	s := setupTestServer(t, 0)
	s.upload(t, "Bob", bobToken, "x")

	tests := map[string]string{
		"missing file":  "/audio/" + bobToken + "/Bob09.webm",
		"bad token":     "/audio/not-a-token/Bob01.webm",
		"dot file":      "/audio/" + bobToken + "/..",
		"query string":  "/audio/" + bobToken + "/Bob01.webm?download=1",
		"unknown route": "/audio/" + bobToken + "/a/b",
	}

	for name, target := range tests {
		t.Run(name, func(t *testing.T) {
			w := s.do("GET", target, "", "", "")
			if w.Code != http.StatusNotFound {
				t.Errorf("expected status 404, got %d", w.Code)
			}
		})
	}
}

func TestDeleteEndpoint(t *testing.T) {
	s := setupTestServer(t, 0)
	loc := s.upload(t, "Bob", bobToken, "x")
	path := filepath.Join(s.store.UserDir(bobToken), filepath.Base(loc))

	// Someone else cannot delete Bob's recording.
	if w := s.do("DELETE", loc, bearer("Alice", aliceToken), "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for non-owner, got %d", w.Code)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("recording should survive a foreign delete: %v", err)
	}

	if w := s.do("DELETE", loc, bearer("Bob", bobToken), "", ""); w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("recording should be deleted")
	}

	if w := s.do("DELETE", loc, bearer("Bob", bobToken), "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for second delete, got %d", w.Code)
	}
}

func TestStationsEndpoint(t *testing.T) {
	s := setupTestServer(t, 0)
	s.upload(t, "Bob", bobToken, "x")

	dir := s.store.ConvertedDir(bobToken)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Bob01.ogg"), []byte("hello"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/radio", nil)
	req.SetBasicAuth("Melville", radioPass)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var listings []station.Listing
	if err := json.Unmarshal(w.Body.Bytes(), &listings); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("expected 1 station, got %d", len(listings))
	}
	got := listings[0]
	if got.Name != "Bob" || got.Token != bobToken {
		t.Errorf("unexpected station %+v", got)
	}
	if got.Frequency < station.MinFrequency || got.Frequency >= station.MaxFrequency {
		t.Errorf("frequency %d out of range", got.Frequency)
	}
	if len(got.Files) != 1 || got.Files[0].Path != bobToken+"/Bob01.ogg" {
		t.Errorf("unexpected files %+v", got.Files)
	}

	// The listed path is playable from the radio route.
	if w := s.do("GET", "/radio/"+got.Files[0].Path, "", "", ""); w.Code != http.StatusOK || w.Body.String() != "hello" {
		t.Errorf("converted playback failed: %d", w.Code)
	}
}

func TestStationsEndpoint_BasicAuth(t *testing.T) {
	s := setupTestServer(t, 0)

	tests := []struct {
		name string
		user string
		pass string
		set  bool
	}{
		{"no credentials", "", "", false},
		{"wrong password", "Melville", "nope", true},
		{"wrong user", "Ahab", radioPass, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/radio", nil)
			if tt.set {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			if w.Code != http.StatusNotFound {
				t.Errorf("expected status 404, got %d", w.Code)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	s := setupTestServer(t, 0)

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:63342", true},
		{"https://francoise.fm", true},
		{"https://evil.test", false},
		{"", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("OPTIONS", "/audio", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%q: expected status 200, got %d", tt.origin, w.Code)
		}
		got := w.Header().Get("Access-Control-Allow-Origin")
		if tt.allowed && got != tt.origin {
			t.Errorf("%q: expected origin to be reflected, got %q", tt.origin, got)
		}
		if !tt.allowed && got != "" {
			t.Errorf("%q: expected no allow-origin header, got %q", tt.origin, got)
		}
		if w.Header().Get("Access-Control-Expose-Headers") != "Location" {
			t.Errorf("%q: Location must be exposed", tt.origin)
		}
	}
}
