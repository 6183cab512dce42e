package collab

import (
	"context"
	"log"
)

// Assistant is the generative service behind smart replies and summaries.
type Assistant interface {
	SuggestReplies(ctx context.Context, recent []string) ([]string, error)
	Summarize(ctx context.Context, transcript []string) (string, error)
}

// DefaultReplies are offered when no assistant is configured.
var DefaultReplies = []string{"Nice!", "I agree", "Cool"}

// FallbackReplies are offered when the assistant fails.
var FallbackReplies = []string{"Okay", "Sounds good", "Wait"}

const (
	NoAssistantSummary = "Conversation history is encrypted."
	FailedSummary      = "Failed to summarize chat."
	UnavailableSummary = "Summary unavailable."
)

// FallbackAssistant never fails: it answers with fixed text whenever Next
// is missing or errors.
type FallbackAssistant struct {
	Next Assistant
}

func (a FallbackAssistant) SuggestReplies(ctx context.Context, recent []string) []string {
	if a.Next == nil {
		return append([]string(nil), DefaultReplies...)
	}
	replies, err := a.Next.SuggestReplies(ctx, recent)
	if err != nil {
		log.Printf("assistant: suggesting replies: %v", err)
		return append([]string(nil), FallbackReplies...)
	}
	if len(replies) == 0 {
		return append([]string(nil), FallbackReplies...)
	}
	return replies
}

func (a FallbackAssistant) Summarize(ctx context.Context, transcript []string) string {
	if a.Next == nil {
		return NoAssistantSummary
	}
	summary, err := a.Next.Summarize(ctx, transcript)
	if err != nil {
		log.Printf("assistant: summarizing: %v", err)
		return FailedSummary
	}
	if summary == "" {
		return UnavailableSummary
	}
	return summary
}
