package ai

import (
	"Vizier/core"
	"Vizier/lib/sl"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Decoder turns generated image descriptors into bytes ready for upload
type Decoder struct {
	httpClient *http.Client
	log        *slog.Logger
}

func NewDecoder(httpClient *http.Client, log *slog.Logger) *Decoder {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &Decoder{
		httpClient: httpClient,
		log:        log.With(sl.Module("decoder")),
	}
}

// DecodeImage returns the image bytes. A remote URL answering with anything
// but 200 yields nil bytes and a nil error.
func (d *Decoder) DecodeImage(ctx context.Context, desc core.Descriptor) ([]byte, error) {
	if desc.Inline() {
		return DecodeDataURL(desc.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching image: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			d.log.Error("closing response body", sl.Err(err))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		d.log.With(
			slog.Int("status", resp.StatusCode),
		).Warn("image fetch failed")
		return nil, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

// DecodeDataURL decodes the base64 payload that follows the first comma
func DecodeDataURL(raw string) ([]byte, error) {
	if !strings.HasPrefix(raw, "data:") {
		return nil, errors.New("not a data URL")
	}
	_, payload, ok := strings.Cut(raw, ",")
	if !ok {
		return nil, errors.New("data URL has no payload")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding data URL: %w", err)
	}
	return data, nil
}

// EncodeDataURL embeds data into a base64 data URL
func EncodeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
