package llm

import (
	"context"

	"github.com/Morwran/yagpt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// YandexClient talks to YandexGPT. The upstream has no streaming mode, so
// the whole completion arrives as a single fragment.
type YandexClient struct {
	ya       yagpt.YaGPTFace
	iamToken string
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	// Create IAM token from OAuth token
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, errors.Wrap(err, "init yandex iam")
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, errors.Wrap(err, "create iam token")
	}

	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, errors.Wrap(err, "init yagpt")
	}

	return &YandexClient{
		ya:       ya,
		iamToken: resp.IamToken,
	}, nil
}

func (c *YandexClient) Stream(ctx context.Context, req Request) Fragments {
	return newFragments(func(yield func(string) bool) error {
		messages := toYandexMessages(req)
		resp, err := c.ya.CompletionWithCtx(ctx, c.iamToken, messages)
		if err != nil {
			return errors.Wrap(err, "yagpt completion failed")
		}
		if resp == nil || len(resp.Alternatives) == 0 {
			return errors.New("yagpt returned empty response")
		}
		log.Debug().
			Int64("prompt_tokens", int64(resp.Usage.InputTextTokens)).
			Int64("completion_tokens", int64(resp.Usage.CompletionTokens)).
			Msg("yagpt usage")
		yield(resp.Alternatives[0].Message.Content)
		return nil
	})
}

func toYandexMessages(req Request) []yagpt.Message {
	var messages []yagpt.Message
	if req.System != "" {
		messages = append(messages, yagpt.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Turns() {
		if m.Text == "" {
			continue
		}
		msg := yagpt.Message{Role: "user", Content: m.Text}
		if m.Role == RoleAssistant {
			msg.Role = "assistant"
		}
		messages = append(messages, msg)
	}
	return messages
}
