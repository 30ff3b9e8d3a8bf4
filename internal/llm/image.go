package llm

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// maxImageBytes caps inline image uploads; Telegram photos are well below it.
const maxImageBytes = 10 << 20

// fetchImage downloads an image reference so it can be sent inline to
// providers that do not dereference URLs themselves.
func fetchImage(ctx context.Context, hc *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "build image request")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", errors.Wrap(err, "download image")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", errors.Errorf("download image: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", errors.Wrap(err, "read image")
	}
	if len(data) > maxImageBytes {
		return nil, "", errors.New("image too large")
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// inlineImages replaces every image URL in req with a data URL, so that the
// provider never sees a link carrying the bot token.
func inlineImages(ctx context.Context, hc *http.Client, req Request) (Request, error) {
	if len(req.Messages) == 0 {
		return req, nil
	}
	msgs := make([]Message, len(req.Messages))
	copy(msgs, req.Messages)
	for i, m := range msgs {
		if m.ImageURL == "" || strings.HasPrefix(m.ImageURL, "data:") {
			continue
		}
		data, mime, err := fetchImage(ctx, hc, m.ImageURL)
		if err != nil {
			return req, err
		}
		msgs[i].ImageURL = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	req.Messages = msgs
	return req, nil
}
