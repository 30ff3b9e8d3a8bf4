package llm

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash-exp"

type GeminiClient struct {
	client *genai.Client
	model  string
	http   *http.Client
}

func NewGemini(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create genai client")
	}
	return &GeminiClient{client: client, model: model, http: http.DefaultClient}, nil
}

func (c *GeminiClient) Stream(ctx context.Context, req Request) Fragments {
	return newFragments(func(yield func(string) bool) error {
		contents, err := c.buildContents(ctx, req.Turns())
		if err != nil {
			return err
		}
		cfg := &genai.GenerateContentConfig{}
		if req.System != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
			if err != nil {
				return errors.Wrap(err, "gemini stream")
			}
			if !yield(resp.Text()) {
				return nil
			}
		}
		return nil
	})
}

func (c *GeminiClient) buildContents(ctx context.Context, turns []Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		var parts []*genai.Part
		if m.ImageURL != "" {
			data, mime, err := fetchImage(ctx, c.http, m.ImageURL)
			if err != nil {
				return nil, err
			}
			parts = append(parts, genai.NewPartFromBytes(data, mime))
		}
		if m.Text != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, geminiRole(m.Role)))
	}
	if len(contents) == 0 {
		return nil, errors.New("gemini: empty request")
	}
	return contents, nil
}

func geminiRole(r Role) genai.Role {
	if r == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}
