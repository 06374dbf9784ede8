package elvis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeElvis is a minimal Elvis server: a session cookie issued on login and a
// CSRF token that must accompany every authenticated call.
type fakeElvis struct {
	t *testing.T

	logins        atomic.Int32
	searches      atomic.Int32
	loginFails    bool
	alwaysDeny    bool
	token         string
	loginDelay    time.Duration
	holdUnauthed  int
	unauthedCount atomic.Int32
	release       chan struct{}
	releaseOnce   sync.Once

	mu      sync.Mutex
	session string
}

func newFakeElvis(t *testing.T) *fakeElvis {
	return &fakeElvis{t: t, token: "csrf-1", release: make(chan struct{})}
}

func (f *fakeElvis) authorized(r *http.Request) bool {
	if f.alwaysDeny {
		return false
	}
	cookie, err := r.Cookie("JSESSIONID")
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session != "" && cookie.Value == f.session && r.Header.Get("X-CSRF-TOKEN") == f.token
}

func (f *fakeElvis) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/services/login":
		n := f.logins.Add(1)
		if f.loginDelay > 0 {
			time.Sleep(f.loginDelay)
		}
		if f.loginFails {
			writeJSON(w, map[string]any{"loginSuccess": false, "loginFaultMessage": "Invalid username or password"})
			return
		}
		if err := r.ParseForm(); err != nil || r.Form.Get("username") != "admin" {
			f.t.Errorf("Expected username admin in login form, got %q", r.Form.Get("username"))
		}
		session := fmt.Sprintf("session-%d", n)
		f.mu.Lock()
		f.session = session
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: session, Path: "/"})
		writeJSON(w, map[string]any{"loginSuccess": true, "csrfToken": f.token})
	case "/services/search":
		f.searches.Add(1)
		if !f.authorized(r) {
			if f.holdUnauthed > 0 && int(f.unauthedCount.Add(1)) <= f.holdUnauthed {
				if int(f.unauthedCount.Load()) >= f.holdUnauthed {
					f.releaseOnce.Do(func() { close(f.release) })
				}
				<-f.release
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = r.ParseForm()
		writeJSON(w, SearchResponse{TotalHits: 1, Hits: []Hit{{ID: r.Form.Get("q")}}})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Options{BaseURL: url, Username: "admin", Password: "changemenow", RetryDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestRequest_ConcurrentUnauthorizedLogsInOnce(t *testing.T) {
	for _, callers := range []int{2, 10} {
		t.Run(fmt.Sprintf("%d callers", callers), func(t *testing.T) {
			fake := newFakeElvis(t)
			fake.holdUnauthed = callers
			fake.loginDelay = 20 * time.Millisecond
			srv := httptest.NewServer(fake)
			defer srv.Close()

			client := newTestClient(t, srv.URL)

			var wg sync.WaitGroup
			errs := make([]error, callers)
			results := make([]*SearchResponse, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = client.Search(context.Background(), Search{Query: fmt.Sprintf("id:%d", i)})
				}(i)
			}
			wg.Wait()

			if got := fake.logins.Load(); got != 1 {
				t.Errorf("Expected exactly 1 login, got %d", got)
			}
			for i, err := range errs {
				if err != nil {
					t.Errorf("caller %d: unexpected error %v", i, err)
					continue
				}
				if want := fmt.Sprintf("id:%d", i); results[i].Hits[0].ID != want {
					t.Errorf("caller %d: expected hit %s, got %s", i, want, results[i].Hits[0].ID)
				}
			}
		})
	}
}

func TestRequest_StaleSessionSkipsSecondLogin(t *testing.T) {
	fake := newFakeElvis(t)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	// Simulate a caller whose 401 came from the session that was just replaced.
	stale := client.currentSession().generation
	if err := client.Login(ctx); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := client.reauthenticate(ctx, stale); err != nil {
		t.Fatalf("reauthenticate() error = %v", err)
	}

	if got := fake.logins.Load(); got != 1 {
		t.Errorf("Expected 1 login, got %d", got)
	}
}

func TestRequest_SecondUnauthorizedIsHardFailure(t *testing.T) {
	fake := newFakeElvis(t)
	fake.alwaysDeny = true
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Search(context.Background(), Search{Query: "*"})
	if !IsUnauthorized(err) {
		t.Fatalf("Expected 401 error, got %v", err)
	}
	if got := fake.logins.Load(); got != 1 {
		t.Errorf("Expected 1 login, got %d", got)
	}
	if got := fake.searches.Load(); got != 2 {
		t.Errorf("Expected original call plus one retry (2), got %d", got)
	}
}

func TestRequest_LoginFailureSharedByCallers(t *testing.T) {
	fake := newFakeElvis(t)
	fake.loginFails = true
	fake.holdUnauthed = 3
	fake.loginDelay = 20 * time.Millisecond
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Search(context.Background(), Search{Query: "*"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("caller %d: expected ErrAuthenticationFailed, got %v", i, err)
		}
	}
	if got := fake.logins.Load(); got != 1 {
		t.Errorf("Expected 1 login, got %d", got)
	}
}

func TestRequest_ErrorCodeInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"errorcode": 404, "message": "Asset not found"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.Request(context.Background(), http.MethodPost, "/services/update", nil, nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != 404 || httpErr.Message != "Asset not found" {
		t.Errorf("Expected 404 Asset not found, got %d %s", httpErr.StatusCode, httpErr.Message)
	}
}

func TestRequest_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url)
	_, err := client.Search(context.Background(), Search{Query: "*"})
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Expected ErrTransport, got %v", err)
	}
}

func TestSearchAndUpdate_FormValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		switch r.URL.Path {
		case "/services/search":
			if r.Form.Get("q") != "id:abc" || r.Form.Get("firstResult") != "10" || r.Form.Get("maxResultHits") != "5" {
				t.Errorf("Unexpected search form: %v", r.Form)
			}
			if r.Form.Get("sort") != "assetCreated-" || r.Form.Get("returnPendingImports") != "true" {
				t.Errorf("Unexpected search form: %v", r.Form)
			}
			writeJSON(w, SearchResponse{TotalHits: 1, Hits: []Hit{{ID: "abc", PreviewURL: "/preview/abc.jpg"}}})
		case "/services/update":
			var md map[string]any
			if err := json.Unmarshal([]byte(r.Form.Get("metadata")), &md); err != nil {
				t.Fatalf("metadata is not JSON: %v", err)
			}
			if md["tags"] != "cat;dog" || r.Form.Get("id") != "abc" || r.Form.Get("metadataToReturn") != "filename" {
				t.Errorf("Unexpected update form: %v", r.Form)
			}
			writeJSON(w, Hit{ID: "abc", Metadata: map[string]any{"filename": "abc.jpg"}})
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	sr, err := client.Search(ctx, Search{Query: "id:abc", FirstResult: 10, MaxResultHits: 5, Sort: "assetCreated-", ReturnPendingImports: true})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(sr.Hits) != 1 || sr.Hits[0].PreviewURL != "/preview/abc.jpg" {
		t.Errorf("Unexpected search response: %+v", sr)
	}

	hit, err := client.Update(ctx, "abc", map[string]any{"tags": "cat;dog"}, "filename")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if hit.Filename() != "abc.jpg" {
		t.Errorf("Expected filename abc.jpg, got %q", hit.Filename())
	}
}

func TestRequestFile_RetriesConflictAfterDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	dest := filepath.Join(t.TempDir(), "sub", "preview.jpg")

	start := time.Now()
	got, err := client.RequestFile(context.Background(), srv.URL+"/preview/1.jpg", dest)
	if err != nil {
		t.Fatalf("RequestFile() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Expected retry delay of at least 10ms, took %s", elapsed)
	}
	if got != dest {
		t.Errorf("Expected %s, got %s", dest, got)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "image-bytes" {
		t.Errorf("Unexpected file content %q (err %v)", data, err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestRequestFile_ConflictAndUnauthorizedCombine(t *testing.T) {
	fake := newFakeElvis(t)
	var previewCalls atomic.Int32
	mux := http.NewServeMux()
	mux.Handle("/services/", fake)
	mux.HandleFunc("/preview/", func(w http.ResponseWriter, r *http.Request) {
		previewCalls.Add(1)
		if !fake.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if previewCalls.Load() == 2 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	dest := filepath.Join(t.TempDir(), "a.jpg")
	if _, err := client.RequestFile(context.Background(), "/preview/a.jpg", dest); err != nil {
		t.Fatalf("RequestFile() error = %v", err)
	}
	if previewCalls.Load() != 3 {
		t.Errorf("Expected 401, 409 and 200 (3 calls), got %d", previewCalls.Load())
	}
	if fake.logins.Load() != 1 {
		t.Errorf("Expected 1 login, got %d", fake.logins.Load())
	}
}

func TestRequestFile_FailureLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	dir := t.TempDir()
	dest := filepath.Join(dir, "a.jpg")

	_, err := client.RequestFile(context.Background(), "/preview/a.jpg", dest)
	if StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("Expected 500 error, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected empty directory after failed download, found %d entries", len(entries))
	}
}

func TestWriteFile_ReadErrorRemovesPartial(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "a.jpg")

	err := writeFile(dest, &failingReader{})
	if err == nil {
		t.Fatal("Expected error from failing reader")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected no files after failed write, found %d", len(entries))
	}
}

type failingReader struct{ done bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset")
}

func TestWriteFile_CreatesDirectoryAndReplaces(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "previews", "a.jpg")

	if err := writeFile(dest, strings.NewReader("first")); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}
	if err := writeFile(dest, strings.NewReader("second")); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected replaced content, got %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 1 {
		t.Errorf("Expected only the destination file, found %d entries", len(entries))
	}
}

func TestRequest_StalledLoginHonoursCallerContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/services/login" {
			<-release
			writeJSON(w, map[string]any{"loginSuccess": false, "loginFaultMessage": "gave up"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	// Cleanups run in reverse: unblock the login handler before closing the server.
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := newTestClient(t, srv.URL)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	start := time.Now()
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			errs[i] = client.Request(ctx, http.MethodPost, "/services/search", nil, nil)
		}(i)
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected callers to give up with their context, blocked for %s", elapsed)
	}
	for i, err := range errs {
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("caller %d: expected context.DeadlineExceeded, got %v", i, err)
		}
	}
}
