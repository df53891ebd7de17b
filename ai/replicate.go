package ai

import (
	"Vizier/core"
	"Vizier/lib/sl"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/replicate/replicate-go"
)

const defaultPollInterval = 500 * time.Millisecond

// Replicate runs predictions by model reference, "owner/name" for official
// models or "owner/name:version" for pinned versions.
type Replicate struct {
	client       *replicate.Client
	pollInterval time.Duration
	log          *slog.Logger
}

func NewReplicate(conf *core.Config, httpClient *http.Client, log *slog.Logger) (*Replicate, error) {
	poll := conf.Replicate.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}

	opts := []replicate.ClientOption{
		replicate.WithToken(conf.ReplicateApiToken),
		replicate.WithHTTPClient(httpClient),
	}
	if conf.Replicate.BaseURL != "" {
		opts = append(opts, replicate.WithBaseURL(strings.TrimRight(conf.Replicate.BaseURL, "/")))
	}
	client, err := replicate.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("replicate client: %w", err)
	}

	return &Replicate{
		client:       client,
		pollInterval: poll,
		log:          log.With(sl.Module("replicate")),
	}, nil
}

// NewHTTPClient returns a pooled client without an overall timeout; streams
// stay open for as long as the model keeps talking.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// Create starts a prediction
func (r *Replicate) Create(ctx context.Context, model string, input replicate.PredictionInput, stream bool) (*replicate.Prediction, error) {
	var p *replicate.Prediction
	var err error
	if _, version, ok := strings.Cut(model, ":"); ok {
		p, err = r.client.CreatePrediction(ctx, version, input, nil, stream)
	} else {
		owner, name, found := strings.Cut(model, "/")
		if !found {
			return nil, fmt.Errorf("invalid model reference %q", model)
		}
		p, err = r.client.CreatePredictionWithModel(ctx, owner, name, input, nil, stream)
	}
	if err != nil {
		return nil, fmt.Errorf("creating prediction for %s: %w", model, err)
	}

	r.log.With(
		slog.String("model", model),
		slog.String("id", p.ID),
		slog.String("status", string(p.Status)),
	).Debug("prediction created")
	return p, nil
}

// Wait polls the prediction until it reaches a terminal status
func (r *Replicate) Wait(ctx context.Context, p *replicate.Prediction) (*replicate.Prediction, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for !isTerminal(p.Status) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		next, err := r.client.GetPrediction(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("getting prediction %s: %w", p.ID, err)
		}
		p = next
	}
	return p, nil
}

// Run creates a prediction and blocks until it finishes. Failed and canceled
// predictions are reported as errors.
func (r *Replicate) Run(ctx context.Context, model string, input replicate.PredictionInput) (*replicate.Prediction, error) {
	p, err := r.Create(ctx, model, input, false)
	if err != nil {
		return nil, err
	}
	p, err = r.Wait(ctx, p)
	if err != nil {
		return nil, err
	}
	if string(p.Status) != StatusSucceeded {
		return nil, fmt.Errorf("prediction %s %s: %v", p.ID, p.Status, p.Error)
	}
	return p, nil
}

// Stream creates a streaming prediction and yields its output fragments in
// arrival order. A transport failure or an error event ends the sequence with
// a non-nil error.
func (r *Replicate) Stream(ctx context.Context, model string, input replicate.PredictionInput) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		p, err := r.Create(ctx, model, input, true)
		if err != nil {
			yield("", err)
			return
		}
		if p.URLs["stream"] == "" {
			yield("", fmt.Errorf("model %s does not support streaming", model))
			return
		}

		events, errs := r.client.StreamPrediction(ctx, p)
		for frag, err := range outputFragments(ctx, events, errs) {
			if err != nil {
				yield("", fmt.Errorf("prediction %s: %w", p.ID, err))
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

// statusOf returns the HTTP status of an API error, 0 for other errors
func statusOf(err error) int {
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
