package reconcile

import (
	"strings"

	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

// PrefixDiff re-transcribes the sliding window and emits only what was added
// since the previous pass. When the model revises earlier words the whole
// new text is emitted and consumers treat it as a replacement.
type PrefixDiff struct{}

func (PrefixDiff) Name() string { return PolicyPrefixDiff }

func (PrefixDiff) Span() Span { return SpanWindow }

func (PrefixDiff) Reconcile(state State, res transcriber.Result, final bool) Outcome {
	text := res.Text()
	if text == "" {
		return Outcome{State: state}
	}

	delta := text
	if strings.HasPrefix(text, state.LastText) {
		delta = strings.TrimSpace(text[len(state.LastText):])
	}

	var out Outcome
	if delta != "" {
		out.Events = []Event{{
			Kind:     KindTranscript,
			Text:     delta,
			FullText: text,
			Final:    final,
		}}
	}

	if final {
		out.ResetBuffer = true
		return out
	}
	out.State = State{LastText: text}
	return out
}
