// Package collab holds the services the core consumes but does not own:
// human verification, the reply assistant and cloud mirroring. Each has a
// safe default so the core never depends on them being reachable.
package collab

import (
	"context"
	"log"
	"math/rand"
	"strings"
)

// MinUsernameLength is the shortest username accepted at login.
const MinUsernameLength = 3

// ValidUsername reports whether name is long enough once trimmed.
func ValidUsername(name string) bool {
	return len([]rune(strings.TrimSpace(name))) >= MinUsernameLength
}

// HumanVerifier gates login. Verify returns false to refuse it.
type HumanVerifier interface {
	Verify(ctx context.Context) bool
}

// StaticVerifier always answers the same. Useful headless and in tests.
type StaticVerifier bool

func (v StaticVerifier) Verify(context.Context) bool { return bool(v) }

// Confusable characters such as 0/O and 1/I are left out.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// Prompter shows code to the user and returns what they typed.
type Prompter func(ctx context.Context, code string) (string, error)

// CodeVerifier asks the user to type back a random code. A wrong answer
// gets a fresh code, up to Attempts times.
type CodeVerifier struct {
	Prompt   Prompter
	Attempts int
}

func (v CodeVerifier) Verify(ctx context.Context) bool {
	attempts := v.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	for i := 0; i < attempts; i++ {
		code := NewCode()
		answer, err := v.Prompt(ctx, code)
		if err != nil {
			log.Printf("verify: %v", err)
			return false
		}
		if strings.ToUpper(strings.TrimSpace(answer)) == code {
			return true
		}
		log.Printf("verify: invalid verification code, %d attempt(s) left", attempts-i-1)
	}
	return false
}

// NewCode returns a random verification code.
func NewCode() string {
	var b strings.Builder
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return b.String()
}
