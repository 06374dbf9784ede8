package gemini

import (
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

func TestFirstText(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		wantErr bool
	}{
		{
			name: "text part",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"keywords":["cat"]}`)}}},
			}},
			want: `{"keywords":["cat"]}`,
		},
		{
			name:    "no candidates",
			resp:    &genai.GenerateContentResponse{},
			wantErr: true,
		},
		{
			name: "empty content",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{Content: &genai.Content{}},
			}},
			wantErr: true,
		},
		{
			name: "non text part",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{Content: &genai.Content{Parts: []genai.Part{genai.Blob{MIMEType: "image/png"}}}},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstText(tt.resp)
			if tt.wantErr {
				if !errors.Is(err, providers.ErrProviderFailure) {
					t.Errorf("Expected ErrProviderFailure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("firstText() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
