package clarifai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

func TestModelsFor(t *testing.T) {
	c, err := New(Options{
		APIKey: "key",
		PathModels: map[string][]string{
			"/Demo":          {"travel"},
			"/Demo/Kitchen/": {"food", "general-image-recognition"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		hints providers.Hints
		want  []string
	}{
		{name: "default", hints: providers.Hints{}, want: []string{GeneralModel}},
		{name: "hints win", hints: providers.Hints{Models: []string{"apparel"}, AssetPath: "/Demo/x.jpg"}, want: []string{"apparel"}},
		{name: "prefix", hints: providers.Hints{AssetPath: "/Demo/beach.jpg"}, want: []string{"travel"}},
		{name: "longest prefix", hints: providers.Hints{AssetPath: "/Demo/Kitchen/pie.jpg"}, want: []string{"food", "general-image-recognition"}},
		{name: "no match", hints: providers.Hints{AssetPath: "/Other/a.jpg"}, want: []string{GeneralModel}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ModelsFor(tt.hints); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		if r.Header.Get("Authorization") != "Key secret" {
			t.Errorf("Unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Decode() error = %v", err)
		}

		concepts := `[{"name":"Dog","value":0.99},{"name":"cat","value":0.5},{"name":"pet","value":0.95}]`
		if strings.Contains(r.URL.Path, "/models/second/") {
			concepts = `[{"name":"pet","value":0.97},{"name":"Puppy","value":0.91}]`
		}
		_, _ = w.Write([]byte(`{"status":{"code":10000,"description":"Ok"},"outputs":[{"data":{"concepts":` + concepts + `}}]}`))
	}))
	defer server.Close()

	file := filepath.Join(t.TempDir(), "dog.jpg")
	if err := os.WriteFile(file, []byte("jpeg"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := New(Options{APIKey: "secret", BaseURL: server.URL, TagsField: "cf_tagsClarifai"})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := c.Detect(context.Background(), file, providers.Hints{Models: []string{"first", "second"}})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if want := []string{"dog", "pet", "puppy"}; !reflect.DeepEqual(resp.Tags, want) {
		t.Errorf("Expected %v, got %v", want, resp.Tags)
	}
	if resp.Metadata["cf_tagsClarifai"] != "dog,pet,puppy" {
		t.Errorf("Unexpected metadata %v", resp.Metadata)
	}
	if want := []string{"/models/first/outputs", "/models/second/outputs"}; !reflect.DeepEqual(paths, want) {
		t.Errorf("Expected calls %v, got %v", want, paths)
	}
}

func TestDetect_StatusFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "bad key", status: http.StatusUnauthorized, body: `{"status":{"code":11008,"description":"Invalid API key"}}`},
		{name: "body status", status: http.StatusOK, body: `{"status":{"code":21200,"description":"Model does not exist"}}`},
		{name: "not json", status: http.StatusBadGateway, body: `<html>bad gateway</html>`},
	}

	file := filepath.Join(t.TempDir(), "a.jpg")
	if err := os.WriteFile(file, []byte("jpeg"), 0644); err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, _ := New(Options{APIKey: "k", BaseURL: server.URL})
			_, err := c.Detect(context.Background(), file, providers.Hints{})
			if !errors.Is(err, providers.ErrProviderFailure) {
				t.Errorf("Expected ErrProviderFailure, got %v", err)
			}
		})
	}
}
