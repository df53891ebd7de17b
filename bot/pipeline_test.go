package bot

import (
	"Vizier/core"
	"Vizier/storage"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeGateway implements core.ModelGateway for testing
type fakeGateway struct {
	mu       sync.Mutex
	refine   func(prompt string) core.Reply
	describe core.Reply
	image    *core.Descriptor

	refinePrompts []string
	describeCalls []string
	imagePrompts  []string
}

func (g *fakeGateway) RefinePrompt(ctx context.Context, prompt string) core.Reply {
	g.mu.Lock()
	g.refinePrompts = append(g.refinePrompts, prompt)
	g.mu.Unlock()
	return g.refine(prompt)
}

func (g *fakeGateway) DescribeImage(ctx context.Context, imageURL, prompt string) core.Reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.describeCalls = append(g.describeCalls, imageURL+"|"+prompt)
	return g.describe
}

func (g *fakeGateway) GenerateImage(ctx context.Context, prompt string) *core.Descriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.imagePrompts = append(g.imagePrompts, prompt)
	return g.image
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refinePrompts) + len(g.describeCalls) + len(g.imagePrompts)
}

type fakeDecoder struct {
	data []byte
	err  error
}

func (d *fakeDecoder) DecodeImage(ctx context.Context, desc core.Descriptor) ([]byte, error) {
	return d.data, d.err
}

// fakeConversation records everything sent to it
type fakeConversation struct {
	mu      sync.Mutex
	texts   []string
	files   map[string][]byte
	fileErr error
}

func (c *fakeConversation) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConversation) SendFile(ctx context.Context, name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fileErr != nil {
		return c.fileErr
	}
	if c.files == nil {
		c.files = make(map[string][]byte)
	}
	c.files[name] = data
	return nil
}

func reply(text string) func(string) core.Reply {
	return func(string) core.Reply { return core.Reply{Text: text} }
}

func newTestPipeline(g *fakeGateway, d *fakeDecoder, notifyEmpty bool) (*Pipeline, *storage.MemoryStorage) {
	conf := &core.Config{NotifyEmptyImage: notifyEmpty}
	ledger := storage.NewMemoryStorage()
	return NewPipeline(conf, g, d, ledger, testLogger()), ledger
}

func newEvent() (*core.Event, *fakeConversation) {
	conv := &fakeConversation{}
	return &core.Event{Platform: core.PlatformDiscord, AuthorID: "u1", AuthorName: "alice", Channel: conv}, conv
}

func lastOutcome(t *testing.T, ledger *storage.MemoryStorage, workflow string) string {
	t.Helper()
	usage, err := ledger.Summary(time.Time{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, u := range usage {
		if u.Workflow == workflow {
			for outcome := range u.Outcomes {
				return outcome
			}
		}
	}
	t.Fatalf("no invocation recorded for %s", workflow)
	return ""
}

func assertTexts(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected messages %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestAsk_SendsGatewayReply(t *testing.T) {
	for _, answer := range []string{"Paris.", core.FailedGenerating} {
		g := &fakeGateway{refine: reply(answer)}
		p, ledger := newTestPipeline(g, &fakeDecoder{}, false)
		ev, conv := newEvent()

		p.Ask(context.Background(), ev, "capital of France?")

		assertTexts(t, conv.texts, msgThinking, answer)
		if g.refinePrompts[0] != "capital of France?" {
			t.Fatalf("expected raw question, got %q", g.refinePrompts[0])
		}
		if got := lastOutcome(t, ledger, WorkflowAsk); got != storage.OutcomeOK {
			t.Fatalf("expected outcome ok, got %q", got)
		}
	}
}

func TestAsk_FailureRecorded(t *testing.T) {
	g := &fakeGateway{refine: func(string) core.Reply {
		return core.Reply{Text: core.FailedGenerating, Err: errors.New("stream closed")}
	}}
	p, ledger := newTestPipeline(g, &fakeDecoder{}, false)
	ev, conv := newEvent()

	p.Ask(context.Background(), ev, "hi")

	assertTexts(t, conv.texts, msgThinking, core.FailedGenerating)
	if got := lastOutcome(t, ledger, WorkflowAsk); got != storage.OutcomeFailed {
		t.Fatalf("expected outcome failed, got %q", got)
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	g := &fakeGateway{}
	p, _ := newTestPipeline(g, &fakeDecoder{}, false)
	ev, conv := newEvent()

	p.Ask(context.Background(), ev, "")

	assertTexts(t, conv.texts, msgEmptyQuestion)
	if g.calls() != 0 {
		t.Fatalf("expected no gateway calls, got %d", g.calls())
	}
}

func TestGenerate_EmptyPromptMakesNoCalls(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\t\n"} {
		g := &fakeGateway{}
		p, ledger := newTestPipeline(g, &fakeDecoder{}, false)
		ev, conv := newEvent()

		p.Generate(context.Background(), ev, prompt)

		assertTexts(t, conv.texts, msgEmptyPrompt)
		if g.calls() != 0 {
			t.Fatalf("expected no gateway calls, got %d", g.calls())
		}
		if got := lastOutcome(t, ledger, WorkflowGenerate); got != storage.OutcomeInvalid {
			t.Fatalf("expected outcome invalid, got %q", got)
		}
	}
}

func TestGenerate_Success(t *testing.T) {
	png := []byte("\x89PNG")
	g := &fakeGateway{
		refine: reply("A vivid red fox in snow"),
		image:  &core.Descriptor{URL: "data:image/png;base64,iVBORw=="},
	}
	p, ledger := newTestPipeline(g, &fakeDecoder{data: png}, false)
	ev, conv := newEvent()

	p.Generate(context.Background(), ev, "red fox")

	assertTexts(t, conv.texts,
		msgRefining,
		"Refined Prompt: A vivid red fox in snow",
		msgGenerating,
	)
	if !strings.Contains(g.refinePrompts[0], `"red fox"`) || !strings.Contains(g.refinePrompts[0], "keep it concise") {
		t.Fatalf("expected meta prompt, got %q", g.refinePrompts[0])
	}
	if g.imagePrompts[0] != "A vivid red fox in snow" {
		t.Fatalf("expected refined prompt for image, got %q", g.imagePrompts[0])
	}
	if string(conv.files[generatedImageName]) != string(png) {
		t.Fatalf("expected uploaded image, got %v", conv.files)
	}
	if got := lastOutcome(t, ledger, WorkflowGenerate); got != storage.OutcomeOK {
		t.Fatalf("expected outcome ok, got %q", got)
	}
}

func TestGenerate_RefineFailureStops(t *testing.T) {
	tests := map[string]func(string) core.Reply{
		"sentinel text": reply(core.FailedGenerating),
		"marker inside": reply("Note: There was an error upstream"),
		"empty":         reply(""),
		"error": func(string) core.Reply {
			return core.Reply{Text: "partial", Err: errors.New("reset")}
		},
	}

	for name, refine := range tests {
		t.Run(name, func(t *testing.T) {
			g := &fakeGateway{refine: refine, image: &core.Descriptor{URL: "https://x/y.png"}}
			p, ledger := newTestPipeline(g, &fakeDecoder{data: []byte("img")}, false)
			ev, conv := newEvent()

			p.Generate(context.Background(), ev, "a fox")

			assertTexts(t, conv.texts, msgRefining, msgRefineFailed)
			if len(g.imagePrompts) != 0 {
				t.Fatalf("expected no image generation, got %d calls", len(g.imagePrompts))
			}
			if got := lastOutcome(t, ledger, WorkflowGenerate); got != storage.OutcomeFailed {
				t.Fatalf("expected outcome failed, got %q", got)
			}
		})
	}
}

func TestGenerate_NoImage(t *testing.T) {
	tests := []struct {
		name        string
		image       *core.Descriptor
		decoder     *fakeDecoder
		notifyEmpty bool
	}{
		{"nil descriptor", nil, &fakeDecoder{}, false},
		{"fetch 404", &core.Descriptor{URL: "https://x/y.png"}, &fakeDecoder{}, false},
		{"decode error", &core.Descriptor{URL: "data:,"}, &fakeDecoder{err: errors.New("bad base64")}, false},
		{"nil descriptor notified", nil, &fakeDecoder{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGateway{refine: reply("fox"), image: tt.image}
			p, ledger := newTestPipeline(g, tt.decoder, tt.notifyEmpty)
			ev, conv := newEvent()

			p.Generate(context.Background(), ev, "a fox")

			want := []string{msgRefining, "Refined Prompt: fox", msgGenerating}
			if tt.notifyEmpty {
				want = append(want, msgNoImage)
			}
			assertTexts(t, conv.texts, want...)
			if len(conv.files) != 0 {
				t.Fatalf("expected no upload, got %v", conv.files)
			}
			if got := lastOutcome(t, ledger, WorkflowGenerate); got != storage.OutcomeEmpty {
				t.Fatalf("expected outcome empty, got %q", got)
			}
		})
	}
}

func TestGenerate_UploadFailure(t *testing.T) {
	g := &fakeGateway{refine: reply("fox"), image: &core.Descriptor{URL: "https://x/y.png"}}
	p, ledger := newTestPipeline(g, &fakeDecoder{data: []byte("img")}, false)
	ev, conv := newEvent()
	conv.fileErr = errors.New("413 request entity too large")

	p.Generate(context.Background(), ev, "a fox")

	assertTexts(t, conv.texts, msgRefining, "Refined Prompt: fox", msgGenerating, msgUploadFailed)
	if got := lastOutcome(t, ledger, WorkflowGenerate); got != storage.OutcomeFailed {
		t.Fatalf("expected outcome failed, got %q", got)
	}
}

func TestAnalyze(t *testing.T) {
	g := &fakeGateway{describe: core.Reply{Text: "A cat on a sofa."}}
	p, _ := newTestPipeline(g, &fakeDecoder{}, false)
	ev, conv := newEvent()

	p.Analyze(context.Background(), ev, core.Attachment{Filename: "cat.png", URL: "https://cdn/cat.png"})

	assertTexts(t, conv.texts, msgAnalyzing, "A cat on a sofa.")
	if g.describeCalls[0] != "https://cdn/cat.png|"+analyzePrompt {
		t.Fatalf("unexpected describe call %q", g.describeCalls[0])
	}
}

func TestAnalyze_SentinelSentVerbatim(t *testing.T) {
	g := &fakeGateway{describe: core.Reply{Text: core.FailedImageProcess, Err: errors.New("422")}}
	p, ledger := newTestPipeline(g, &fakeDecoder{}, false)
	ev, conv := newEvent()

	p.Analyze(context.Background(), ev, core.Attachment{Filename: "cat.png", URL: "https://cdn/cat.png"})

	assertTexts(t, conv.texts, msgAnalyzing, core.FailedImageProcess)
	if got := lastOutcome(t, ledger, WorkflowAnalyze); got != storage.OutcomeFailed {
		t.Fatalf("expected outcome failed, got %q", got)
	}
}

func TestAnalyze_ResolvedLocation(t *testing.T) {
	g := &fakeGateway{describe: core.Reply{Text: "ok"}}
	p, _ := newTestPipeline(g, &fakeDecoder{}, false)
	ev, _ := newEvent()

	attachment := core.Attachment{
		Filename: "photo.jpg",
		Resolve: func(ctx context.Context) (string, error) {
			return "data:image/jpeg;base64,/9j/", nil
		},
	}
	p.Analyze(context.Background(), ev, attachment)

	if g.describeCalls[0] != "data:image/jpeg;base64,/9j/|"+analyzePrompt {
		t.Fatalf("unexpected describe call %q", g.describeCalls[0])
	}
}

func TestAnalyze_ResolveFailure(t *testing.T) {
	g := &fakeGateway{}
	p, _ := newTestPipeline(g, &fakeDecoder{}, false)
	ev, conv := newEvent()

	attachment := core.Attachment{
		Filename: "photo.jpg",
		Resolve: func(ctx context.Context) (string, error) {
			return "", errors.New("file too big")
		},
	}
	p.Analyze(context.Background(), ev, attachment)

	assertTexts(t, conv.texts, msgAnalyzing, core.FailedImageProcess)
	if g.calls() != 0 {
		t.Fatalf("expected no gateway calls, got %d", g.calls())
	}
}

func TestPipeline_ConcurrentInvocationsAreIsolated(t *testing.T) {
	g := &fakeGateway{refine: func(prompt string) core.Reply {
		time.Sleep(time.Millisecond)
		return core.Reply{Text: "answer to " + prompt}
	}}
	p, ledger := newTestPipeline(g, &fakeDecoder{}, false)

	questions := []string{"one", "two", "three", "four", "five"}
	convs := make([]*fakeConversation, len(questions))
	var wg sync.WaitGroup
	for i, q := range questions {
		ev, conv := newEvent()
		convs[i] = conv
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Ask(context.Background(), ev, q)
		}()
	}
	wg.Wait()

	for i, q := range questions {
		assertTexts(t, convs[i].texts, msgThinking, "answer to "+q)
	}
	usage, _ := ledger.Summary(time.Time{})
	if len(usage) != 1 || usage[0].Total != len(questions) {
		t.Fatalf("expected %d ask invocations, got %+v", len(questions), usage)
	}
}
