package services

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// markdownV2Reserved is the set of characters the transport's
// MarkdownV2 dialect requires to be backslash-escaped.
const markdownV2Reserved = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 prefixes every reserved MarkdownV2 character with a
// backslash. It must be applied independently to instruction text and
// to the raw PIX code, which routinely contains reserved characters.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 128 && strings.ContainsRune(markdownV2Reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RenderedPayment is a ready-to-deliver payment prompt. The image
// bytes live only for the duration of one delivery.
type RenderedPayment struct {
	Image   []byte
	Caption string
}

// PixRenderer turns a gateway payment artifact into a deliverable chat
// message: the QR image bytes plus a MarkdownV2-safe caption that
// embeds the copy-paste code.
type PixRenderer struct {
	client *http.Client
}

// NewPixRenderer creates a renderer with a bounded fetch timeout
func NewPixRenderer() *PixRenderer {
	return &PixRenderer{
		client: &http.Client{Timeout: 8 * time.Second},
	}
}

// Render fetches the QR image and builds the escaped caption. Any
// failure aborts the whole delivery; a prompt with only half of the
// payment material is never produced.
func (r *PixRenderer) Render(ctx context.Context, artifact PaymentArtifact, instructions string) (*RenderedPayment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.ImageURL, nil)
	if err != nil {
		return nil, &ArtifactFetchError{URL: artifact.ImageURL, Err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &ArtifactFetchError{URL: artifact.ImageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ArtifactFetchError{URL: artifact.ImageURL, Status: resp.StatusCode}
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ArtifactFetchError{URL: artifact.ImageURL, Err: err}
	}

	caption := EscapeMarkdownV2(instructions) + "\n\n`" + EscapeMarkdownV2(artifact.Code) + "`"

	return &RenderedPayment{
		Image:   image,
		Caption: caption,
	}, nil
}
