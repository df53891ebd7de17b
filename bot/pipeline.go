package bot

import (
	"Vizier/core"
	"Vizier/lib/sl"
	"Vizier/storage"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	analyzePrompt = "explain the image in detail, short answer"
	refineFormat  = "refine this prompt without changing the core of the prompt for an image generation AI \"%s\"\n just write the refined prompt, keep it concise and do not add extra details."

	generatedImageName = "generated_image.png"
)

const (
	msgAnalyzing     = "I see you uploaded an image! Let me analyze it..."
	msgEmptyPrompt   = "Please provide a valid prompt for image generation."
	msgRefining      = "Refining your prompt for the image... 🔄"
	msgRefineFailed  = "Sorry, something went wrong while refining your prompt."
	msgRefinedPrompt = "Refined Prompt: %s"
	msgGenerating    = "Generating your image... 🖼️"
	msgNoImage       = "Sorry, I couldn't generate an image for that prompt."
	msgUploadFailed  = "Sorry, something went wrong while sending the generated image."
	msgThinking      = "Let me think... 🤔"
	msgEmptyQuestion = "Please provide a question after the `!ask` command."
)

// Pipeline runs the analyze, generate and ask workflows. It keeps no state
// between calls, so concurrent invocations are independent.
type Pipeline struct {
	gateway     core.ModelGateway
	decoder     core.ImageDecoder
	ledger      storage.UsageStorage
	notifyEmpty bool
	log         *slog.Logger
}

func NewPipeline(conf *core.Config, gateway core.ModelGateway, decoder core.ImageDecoder, ledger storage.UsageStorage, log *slog.Logger) *Pipeline {
	return &Pipeline{
		gateway:     gateway,
		decoder:     decoder,
		ledger:      ledger,
		notifyEmpty: conf.NotifyEmptyImage,
		log:         log.With(sl.Module("pipeline")),
	}
}

// Analyze describes the attached image
func (p *Pipeline) Analyze(ctx context.Context, ev *core.Event, attachment core.Attachment) {
	r := p.begin(ev, WorkflowAnalyze)
	r.say(ctx, msgAnalyzing)

	url, err := attachment.Location(ctx)
	if err != nil {
		r.log.Error("resolving attachment", sl.Err(err))
		r.say(ctx, core.FailedImageProcess)
		r.end(storage.OutcomeFailed)
		return
	}

	reply := p.gateway.DescribeImage(ctx, url, analyzePrompt)
	r.say(ctx, reply.Text)
	r.end(outcomeOf(reply))
}

// Generate refines the prompt with the text model, then renders it with the
// image model and uploads the result. Each stage stops the workflow on failure.
func (p *Pipeline) Generate(ctx context.Context, ev *core.Event, prompt string) {
	r := p.begin(ev, WorkflowGenerate)

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		r.say(ctx, msgEmptyPrompt)
		r.end(storage.OutcomeInvalid)
		return
	}

	r.say(ctx, msgRefining)
	refined := p.gateway.RefinePrompt(ctx, fmt.Sprintf(refineFormat, prompt))
	if refined.Unusable() {
		r.log.Warn("refine failed", sl.Short("reply", refined.Text))
		r.say(ctx, msgRefineFailed)
		r.end(storage.OutcomeFailed)
		return
	}
	r.say(ctx, fmt.Sprintf(msgRefinedPrompt, refined.Text))

	r.say(ctx, msgGenerating)
	image := p.render(ctx, r, refined.Text)
	if image == nil {
		if p.notifyEmpty {
			r.say(ctx, msgNoImage)
		}
		r.end(storage.OutcomeEmpty)
		return
	}

	if err := ev.Channel.SendFile(ctx, generatedImageName, image); err != nil {
		r.log.Error("sending the generated image", sl.Err(err))
		r.say(ctx, msgUploadFailed)
		r.end(storage.OutcomeFailed)
		return
	}
	r.end(storage.OutcomeOK)
}

// render produces the image bytes for prompt, nil when there is nothing to send
func (p *Pipeline) render(ctx context.Context, r *run, prompt string) []byte {
	desc := p.gateway.GenerateImage(ctx, prompt)
	if desc == nil {
		return nil
	}
	image, err := p.decoder.DecodeImage(ctx, *desc)
	if err != nil {
		r.log.Error("decoding the generated image", sl.Err(err))
		return nil
	}
	if len(image) == 0 {
		return nil
	}
	return image
}

// Ask answers a free-form question with the text model
func (p *Pipeline) Ask(ctx context.Context, ev *core.Event, question string) {
	r := p.begin(ev, WorkflowAsk)

	if question == "" {
		r.say(ctx, msgEmptyQuestion)
		r.end(storage.OutcomeInvalid)
		return
	}

	r.say(ctx, msgThinking)
	reply := p.gateway.RefinePrompt(ctx, question)
	r.say(ctx, reply.Text)
	r.end(outcomeOf(reply))
}

func outcomeOf(reply core.Reply) string {
	if reply.Failed() {
		return storage.OutcomeFailed
	}
	return storage.OutcomeOK
}

// run tracks one workflow invocation
type run struct {
	inv    storage.Invocation
	ev     *core.Event
	ledger storage.UsageStorage
	log    *slog.Logger
}

func (p *Pipeline) begin(ev *core.Event, workflow string) *run {
	id := uuid.NewString()
	return &run{
		inv: storage.Invocation{
			ID:        id,
			Workflow:  workflow,
			Platform:  ev.Platform,
			AuthorID:  ev.AuthorID,
			CreatedAt: time.Now(),
		},
		ev:     ev,
		ledger: p.ledger,
		log: p.log.With(
			sl.Invocation(id),
			slog.String("workflow", workflow),
			slog.String("author", ev.AuthorName),
		),
	}
}

// say sends text to the originating channel; failures are logged only
func (r *run) say(ctx context.Context, text string) {
	if err := r.ev.Channel.SendText(ctx, text); err != nil {
		r.log.Error("sending message", sl.Err(err))
	}
}

func (r *run) end(outcome string) {
	r.inv.Outcome = outcome
	r.inv.FinishedAt = time.Now()
	r.inv.Duration = r.inv.FinishedAt.Sub(r.inv.CreatedAt)

	r.log.With(
		slog.String("outcome", outcome),
		slog.Duration("duration", r.inv.Duration),
	).Info("workflow finished")

	if r.ledger == nil {
		return
	}
	if err := r.ledger.Record(&r.inv); err != nil {
		r.log.Error("recording invocation", sl.Err(err))
	}
}
