package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

func TestToOpenAIMessages(t *testing.T) {
	req := Request{
		System: "be brief",
		Messages: []Message{
			{Role: RoleUser, Text: "what is this?", ImageURL: "https://example.org/cat.jpg"},
			{Role: RoleAssistant, Text: "a cat"},
			{Role: RoleUser, Text: "sure?"},
		},
	}
	msgs := toOpenAIMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("want 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be brief" {
		t.Fatalf("unexpected system message: %+v", msgs[0])
	}
	img := msgs[1]
	if img.Content != "" || len(img.MultiContent) != 2 {
		t.Fatalf("image turn should be multi-part: %+v", img)
	}
	if img.MultiContent[0].ImageURL == nil || img.MultiContent[0].ImageURL.URL != "https://example.org/cat.jpg" {
		t.Fatalf("missing image part: %+v", img.MultiContent[0])
	}
	if img.MultiContent[1].Text != "what is this?" {
		t.Fatalf("missing text part: %+v", img.MultiContent[1])
	}
	if msgs[2].Role != openai.ChatMessageRoleAssistant || msgs[3].Role != openai.ChatMessageRoleUser {
		t.Fatalf("roles not preserved: %s %s", msgs[2].Role, msgs[3].Role)
	}
}

func TestToYandexMessages(t *testing.T) {
	msgs := toYandexMessages(Request{
		System: "sys",
		Messages: []Message{
			{Role: RoleUser, Text: "q"},
			{Role: RoleUser, ImageURL: "https://example.org/only-image.png"},
			{Role: RoleAssistant, Text: "a"},
		},
	})
	if len(msgs) != 3 {
		t.Fatalf("want 3 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "system" || msgs[1].Content != "q" || msgs[2].Role != "assistant" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestGeminiBuildContents(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	c := &GeminiClient{http: srv.Client()}
	contents, err := c.buildContents(context.Background(), []Message{
		{Role: RoleUser, Text: "describe", ImageURL: srv.URL + "/img"},
		{Role: RoleAssistant, Text: "a picture"},
		{Role: RoleUser},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("want 2 contents, got %d", len(contents))
	}
	first := contents[0]
	if first.Role != string(genai.RoleUser) || len(first.Parts) != 2 {
		t.Fatalf("unexpected first content: %+v", first)
	}
	if first.Parts[0].InlineData == nil || first.Parts[0].InlineData.MIMEType != "image/png" {
		t.Fatalf("image part not inlined: %+v", first.Parts[0])
	}
	if first.Parts[1].Text != "describe" {
		t.Fatalf("text part: %+v", first.Parts[1])
	}
	if contents[1].Role != string(genai.RoleModel) {
		t.Fatalf("assistant turn should map to model, got %s", contents[1].Role)
	}

	if _, err := c.buildContents(context.Background(), []Message{{Role: RoleUser, ImageURL: srv.URL + "/missing"}}); err == nil {
		t.Fatalf("expected error for missing image")
	}
	if _, err := c.buildContents(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty request")
	}
}

func TestInlineImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	orig := Request{Messages: []Message{
		{Role: RoleUser, Text: "look", ImageURL: srv.URL + "/photo.jpg"},
		{Role: RoleAssistant, Text: "ok"},
	}}
	out, err := inlineImages(context.Background(), srv.Client(), orig)
	if err != nil {
		t.Fatalf("inline: %v", err)
	}
	if got := out.Messages[0].ImageURL; got != "data:image/jpeg;base64,/9j/" {
		t.Fatalf("unexpected data url: %q", got)
	}
	if orig.Messages[0].ImageURL != srv.URL+"/photo.jpg" {
		t.Fatalf("original request mutated")
	}
}
