package core

import (
	"context"
	"strings"
)

// Sentinel texts sent to the user in place of a model answer. Every one of
// them contains FailureMarker.
const (
	FailureMarker      = "There was an error"
	FailedGenerating   = "There was an error generating a response."
	FailedImageProcess = "There was an error processing the image."
)

// Reply is the outcome of a streamed text request. On failure Text holds the
// user-facing sentinel and Err the cause.
type Reply struct {
	Text string
	Err  error
}

func (r Reply) Failed() bool {
	return r.Err != nil
}

// Unusable reports whether the reply cannot be fed into a further model call
func (r Reply) Unusable() bool {
	return r.Failed() || r.Text == "" || strings.Contains(r.Text, FailureMarker)
}

// Descriptor tells where a generated image can be read from.
type Descriptor struct {
	URL string
}

// Inline reports whether the image is embedded in the URL itself.
func (d Descriptor) Inline() bool {
	return strings.HasPrefix(d.URL, "data:")
}

type ModelGateway interface {
	RefinePrompt(ctx context.Context, prompt string) Reply
	DescribeImage(ctx context.Context, imageURL, prompt string) Reply
	GenerateImage(ctx context.Context, prompt string) *Descriptor
}

type ImageDecoder interface {
	DecodeImage(ctx context.Context, d Descriptor) ([]byte, error)
}
