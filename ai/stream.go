package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/replicate/replicate-go"
)

// outputFragments yields the payload of every output event until the stream
// finishes. Transport errors, error events and a done event carrying a reason
// end the sequence with an error.
func outputFragments(ctx context.Context, events <-chan replicate.SSEEvent, errs <-chan error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			select {
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if err != nil {
					yield("", err)
					return
				}
			case ev, ok := <-events:
				if !ok {
					if err := pending(ctx, errs); err != nil {
						yield("", err)
					}
					return
				}
				switch ev.Type {
				case "output":
					if ev.Data == "" {
						continue
					}
					if !yield(ev.Data, nil) {
						return
					}
				case "error":
					yield("", fmt.Errorf("model error: %s", ev.Data))
					return
				case "done":
					if reason := doneReason(ev.Data); reason != "" {
						yield("", fmt.Errorf("stream ended: %s", reason))
					}
					return
				}
			}
		}
	}
}

// pending reports an error left behind when the event channel closed
func pending(ctx context.Context, errs <-chan error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func doneReason(data string) string {
	var payload struct {
		Reason string `json:"reason"`
	}
	if data == "" || json.Unmarshal([]byte(data), &payload) != nil {
		return ""
	}
	return payload.Reason
}

// Collect folds a fragment sequence into one string. On error the text
// gathered so far is returned together with the error.
func Collect(fragments iter.Seq2[string, error]) (string, error) {
	var sb strings.Builder
	for frag, err := range fragments {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
	}
	return sb.String(), nil
}
