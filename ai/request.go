package ai

import (
	"strings"

	"github.com/replicate/replicate-go"
)

const (
	systemPrompt   = "You are a helpful assistant, short answer"
	promptTemplate = "<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n\n" + systemPrompt +
		"<|eot_id|><|start_header_id|>user<|end_header_id|>\n\n{prompt}<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n"
)

const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// NewTextInput creates a text request around the fixed system instruction
func NewTextInput(prompt string) replicate.PredictionInput {
	return replicate.PredictionInput{
		"prompt":           prompt,
		"prompt_template":  promptTemplate,
		"top_p":            0.9,
		"temperature":      0.6,
		"min_tokens":       0,
		"presence_penalty": 1.15,
	}
}

// NewVisionInput is the input of the image question answering model
func NewVisionInput(image, prompt string) replicate.PredictionInput {
	return replicate.PredictionInput{
		"image":  image,
		"prompt": prompt,
	}
}

// NewImageInput is the input of the image generation model
func NewImageInput(prompt string) replicate.PredictionInput {
	return replicate.PredictionInput{
		"prompt": prompt,
	}
}

func isTerminal(status replicate.Status) bool {
	switch string(status) {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// fileOutput returns the URL of the single artifact a prediction produced.
// Output may be a list of URLs or a bare URL; anything else is not a file.
func fileOutput(output any) (string, bool) {
	switch v := output.(type) {
	case []any:
		if len(v) == 0 {
			return "", false
		}
		s, ok := v[0].(string)
		if !ok {
			return "", false
		}
		return fileURL(s)
	case string:
		return fileURL(v)
	}
	return "", false
}

func fileURL(s string) (string, bool) {
	if strings.HasPrefix(s, "data:") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		return s, true
	}
	return "", false
}
