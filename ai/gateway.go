package ai

import (
	"Vizier/core"
	"Vizier/lib/sl"
	"context"
	"log/slog"
	"time"
)

// Gateway exposes the three model operations used by the bot. It never
// returns raw errors to the caller: text calls carry a sentinel reply and the
// image call returns nil.
type Gateway struct {
	client      *Replicate
	textModel   string
	visionModel string
	imageModel  string
	timeout     time.Duration
	log         *slog.Logger
}

func NewGateway(conf *core.Config, client *Replicate, log *slog.Logger) *Gateway {
	return &Gateway{
		client:      client,
		textModel:   conf.Replicate.TextModel,
		visionModel: conf.Replicate.VisionModel,
		imageModel:  conf.Replicate.ImageModel,
		timeout:     conf.Replicate.RequestTimeout,
		log:         log.With(sl.Module("gateway")),
	}
}

// RefinePrompt streams a short answer from the text model
func (g *Gateway) RefinePrompt(ctx context.Context, prompt string) core.Reply {
	ctx, cancel := g.bounded(ctx)
	defer cancel()

	text, err := Collect(g.client.Stream(ctx, g.textModel, NewTextInput(prompt)))
	if err != nil {
		g.log.With(
			slog.String("model", g.textModel),
			slog.Int("status", statusOf(err)),
			slog.Int("partial", len(text)),
		).Error("processing the response", sl.Err(err))
		return core.Reply{Text: core.FailedGenerating, Err: err}
	}
	g.log.With(
		sl.Short("text", text),
	).Info("text response")
	return core.Reply{Text: text}
}

// DescribeImage streams an answer about the image at imageURL
func (g *Gateway) DescribeImage(ctx context.Context, imageURL, prompt string) core.Reply {
	ctx, cancel := g.bounded(ctx)
	defer cancel()

	text, err := Collect(g.client.Stream(ctx, g.visionModel, NewVisionInput(imageURL, prompt)))
	if err != nil {
		g.log.With(
			slog.String("model", g.visionModel),
			slog.Int("status", statusOf(err)),
			slog.Int("partial", len(text)),
		).Error("processing the image", sl.Err(err))
		return core.Reply{Text: core.FailedImageProcess, Err: err}
	}
	g.log.With(
		sl.Short("text", text),
	).Info("image description")
	return core.Reply{Text: text}
}

// GenerateImage runs the image model once and reports where its single
// output can be read from, or nil when there is nothing usable.
func (g *Gateway) GenerateImage(ctx context.Context, prompt string) *core.Descriptor {
	ctx, cancel := g.bounded(ctx)
	defer cancel()

	p, err := g.client.Run(ctx, g.imageModel, NewImageInput(prompt))
	if err != nil {
		g.log.With(
			slog.String("model", g.imageModel),
			slog.Int("status", statusOf(err)),
		).Error("generating the image", sl.Err(err))
		return nil
	}
	url, ok := fileOutput(p.Output)
	if !ok {
		g.log.With(
			slog.String("id", p.ID),
			slog.Any("output", p.Output),
		).Warn("no file output")
		return nil
	}
	d := &core.Descriptor{URL: url}
	g.log.With(
		slog.String("id", p.ID),
		slog.Bool("inline", d.Inline()),
	).Info("image generated")
	return d
}

func (g *Gateway) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}
