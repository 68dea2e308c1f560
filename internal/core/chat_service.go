package core

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"kami.app/kami-server/internal/store"
)

// ChatOptions configures generation for chat turns.
type ChatOptions struct {
	Language      string
	MaxReplyChars int
	Timeout       time.Duration
	Retries       int
	RetryDelay    time.Duration
}

// ChatReply is what a chat turn returns to the caller.
type ChatReply struct {
	Response string `json:"response"`
	GodName  string `json:"godName"`
}

type ChatService struct {
	registry  *GodRegistry
	ledger    *Ledger
	generator Generator
	logger    *zap.Logger
	opts      ChatOptions
	pick      func(n int) int
}

// NewChatService wires the orchestrator. generator may be nil, in which case every
// turn is answered with a fallback reply.
func NewChatService(registry *GodRegistry, ledger *Ledger, generator Generator, logger *zap.Logger, opts ChatOptions) *ChatService {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	opts.Retries = max(opts.Retries, 0)
	return &ChatService{
		registry:  registry,
		ledger:    ledger,
		generator: generator,
		logger:    logger,
		opts:      opts,
		pick:      rand.IntN,
	}
}

// Chat answers message as the god and stores the exchange. Generation failures never
// surface; a fallback reply is stored instead.
func (s *ChatService) Chat(ctx context.Context, user *store.User, godID, message string) (*ChatReply, error) {
	god, err := s.registry.Get(ctx, godID)
	if err != nil {
		return nil, err
	}

	history, err := s.ledger.RecentHistory(ctx, user.ID, god.ID, HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	prompt := BuildChatPrompt(*god, history, message, PromptOptions{
		Language:      s.opts.Language,
		MaxReplyChars: s.opts.MaxReplyChars,
	})
	response := s.generate(ctx, god, prompt)

	_, err = s.ledger.Append(ctx, store.Message{
		UserID:      user.ID,
		Username:    user.Username,
		GodID:       god.ID,
		Message:     message,
		Response:    &response,
		MessageType: store.MessageTypeGod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store exchange: %w", err)
	}

	s.logger.Debug("Chat turn stored",
		zap.String("god_id", god.ID),
		zap.String("user_id", user.ID),
		zap.Int("history", len(history)),
		zap.Int("response_length", len(response)),
	)
	return &ChatReply{Response: response, GodName: god.Name}, nil
}

// PostBelieverMessage adds a community message to the god's timeline.
func (s *ChatService) PostBelieverMessage(ctx context.Context, user *store.User, godID, message string) (*store.Message, error) {
	if _, err := s.registry.Get(ctx, godID); err != nil {
		return nil, err
	}
	return s.ledger.Append(ctx, store.Message{
		UserID:      user.ID,
		Username:    user.Username,
		GodID:       godID,
		Message:     message,
		MessageType: store.MessageTypeBeliever,
	})
}

func (s *ChatService) generate(ctx context.Context, god *store.God, prompt string) string {
	if s.generator == nil {
		return s.fallback(god)
	}

	var text string
	backoff := retry.WithMaxRetries(uint64(s.opts.Retries), retry.NewConstant(s.opts.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()

		out, err := s.generator.Generate(callCtx, prompt)
		if err != nil {
			return retry.RetryableError(err)
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return retry.RetryableError(ErrEmptyGeneration)
		}
		text = out
		return nil
	})
	if err != nil {
		s.logger.Warn("Generation failed, using fallback reply", zap.String("god_id", god.ID), zap.Error(err))
		return s.fallback(god)
	}
	return text
}

func (s *ChatService) fallback(god *store.God) string {
	replies := FallbackReplies(*god)
	return replies[s.pick(len(replies))]
}

// FallbackReplies returns the canned in-character replies used when generation fails.
func FallbackReplies(god store.God) []string {
	p := god.Personality
	name := cmp.Or(god.Name, "The god")

	skills := ""
	if god.SpecialSkills != "" {
		skills = fmt.Sprintf(" With my gift of %s I tell you:", god.SpecialSkills)
	}

	return []string{
		fmt.Sprintf("An oracle from %s: %s.%s in hard times, trust the strength within you.",
			name, cmp.Or(god.Beliefs, "may there be peace in your heart"), skills),
		fmt.Sprintf("From %s, answering %s: this may be a time of trial, but a path will surely open.",
			name, cmp.Or(p.RelationshipWithHumans, "with warmth")),
		fmt.Sprintf("The teaching of %s, spoken %s: life has its waves, and today's pain will become tomorrow's growth.",
			name, cmp.Or(p.Personality, "with a compassionate heart")),
		fmt.Sprintf("Words from %s: you are not alone. %s.",
			name, cmp.Or(p.RelationshipWithFollowers, "I am always watching over you")),
	}
}
