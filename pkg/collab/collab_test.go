package collab

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedAssistant struct {
	replies []string
	summary string
	err     error
}

func (s scriptedAssistant) SuggestReplies(context.Context, []string) ([]string, error) {
	return s.replies, s.err
}

func (s scriptedAssistant) Summarize(context.Context, []string) (string, error) {
	return s.summary, s.err
}

func TestFallbackAssistant(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		next    Assistant
		replies []string
		summary string
	}{
		{"no assistant", nil, DefaultReplies, NoAssistantSummary},
		{"failing", scriptedAssistant{err: errors.New("quota")}, FallbackReplies, FailedSummary},
		{"empty answers", scriptedAssistant{}, FallbackReplies, UnavailableSummary},
		{"working", scriptedAssistant{replies: []string{"Sure"}, summary: "They agreed."}, []string{"Sure"}, "They agreed."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := FallbackAssistant{Next: tt.next}
			assert.Equal(t, tt.replies, a.SuggestReplies(ctx, []string{"hi"}))
			assert.Equal(t, tt.summary, a.Summarize(ctx, []string{"hi"}))
		})
	}
}

func TestFallbackRepliesAreCopies(t *testing.T) {
	got := FallbackAssistant{}.SuggestReplies(context.Background(), nil)
	got[0] = "changed"
	assert.Equal(t, "Nice!", DefaultReplies[0])
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("bob"))
	assert.True(t, ValidUsername("  zoë "))
	assert.False(t, ValidUsername(" ab "))
	assert.False(t, ValidUsername(""))
}

func TestNewCode(t *testing.T) {
	code := NewCode()
	require.Len(t, code, codeLength)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected %q", r)
	}
}

func TestCodeVerifier(t *testing.T) {
	ctx := context.Background()

	echo := CodeVerifier{Prompt: func(_ context.Context, code string) (string, error) {
		return " " + strings.ToLower(code) + "\n", nil
	}}
	assert.True(t, echo.Verify(ctx))

	calls := 0
	wrong := CodeVerifier{Attempts: 2, Prompt: func(context.Context, string) (string, error) {
		calls++
		return "nope", nil
	}}
	assert.False(t, wrong.Verify(ctx))
	assert.Equal(t, 2, calls)

	failing := CodeVerifier{Prompt: func(context.Context, string) (string, error) {
		return "", errors.New("stdin closed")
	}}
	assert.False(t, failing.Verify(ctx))
}

func TestStaticVerifier(t *testing.T) {
	assert.True(t, StaticVerifier(true).Verify(context.Background()))
	assert.False(t, StaticVerifier(false).Verify(context.Background()))
}

func TestNoopCloud(t *testing.T) {
	var c CloudSync = NoopCloud{}
	require.NoError(t, c.Sync(context.Background(), "messages", map[string]string{"id": "m1"}))
	got, err := c.Fetch(context.Background(), "messages")
	require.NoError(t, err)
	assert.Empty(t, got)
}
