package bot

import (
	"Vizier/core"
	"Vizier/lib/sl"
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	generatePrefix = "!generate"
	askPrefix      = "!ask"
)

const (
	WorkflowAnalyze  = "analyze"
	WorkflowGenerate = "generate"
	WorkflowAsk      = "ask"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// Workflows are the actions a classified message can trigger
type Workflows interface {
	Analyze(ctx context.Context, ev *core.Event, attachment core.Attachment)
	Generate(ctx context.Context, ev *core.Event, prompt string)
	Ask(ctx context.Context, ev *core.Event, question string)
}

// Command is the result of classifying one event
type Command struct {
	Workflow   string
	Argument   string
	Attachment core.Attachment
}

// Classify decides which workflow, if any, an event triggers. selfID is the
// platform id of the bot account.
func Classify(ev *core.Event, selfID string) (Command, bool) {
	if ev.AuthorID == selfID {
		return Command{}, false
	}

	for _, attachment := range ev.Attachments {
		if IsImage(attachment.Filename) {
			return Command{Workflow: WorkflowAnalyze, Attachment: attachment}, true
		}
	}

	if rest, ok := strings.CutPrefix(ev.Content, generatePrefix); ok {
		return Command{Workflow: WorkflowGenerate, Argument: strings.TrimSpace(rest)}, true
	}

	if rest, ok := strings.CutPrefix(ev.Content, askPrefix); ok {
		return Command{Workflow: WorkflowAsk, Argument: strings.TrimPrefix(rest, " ")}, true
	}

	return Command{}, false
}

// IsImage matches the filename extension against the supported image types
func IsImage(filename string) bool {
	return imageExtensions[strings.ToLower(path.Ext(filename))]
}

// Router routes inbound events to the workflows and tracks the ones in flight
type Router struct {
	workflows Workflows
	log       *slog.Logger

	mu       sync.Mutex
	draining bool
	inflight errgroup.Group
}

func NewRouter(workflows Workflows, log *slog.Logger) *Router {
	return &Router{
		workflows: workflows,
		log:       log.With(sl.Module("router")),
	}
}

// Handle classifies the event and runs the matching workflow to completion
func (r *Router) Handle(ctx context.Context, ev *core.Event, selfID string) {
	cmd, ok := Classify(ev, selfID)
	if !ok {
		return
	}

	r.log.With(
		slog.String("platform", ev.Platform),
		slog.String("author", ev.AuthorName),
		slog.String("workflow", cmd.Workflow),
	).Info("incoming command")

	switch cmd.Workflow {
	case WorkflowAnalyze:
		r.workflows.Analyze(ctx, ev, cmd.Attachment)
	case WorkflowGenerate:
		r.workflows.Generate(ctx, ev, cmd.Argument)
	case WorkflowAsk:
		r.workflows.Ask(ctx, ev, cmd.Argument)
	}
}

// Go runs fn in the background as part of the in-flight set. It returns false
// without running fn once Drain has been called.
func (r *Router) Go(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return false
	}
	r.inflight.Go(func() error {
		fn()
		return nil
	})
	return true
}

// Drain stops accepting work and waits for everything started with Go
func (r *Router) Drain() {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	_ = r.inflight.Wait()
	r.log.Debug("in-flight events finished")
}
