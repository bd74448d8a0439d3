// Package console is an interactive terminal channel: each line typed is a
// message for one fixed conversation, and replies print above the prompt.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/mattjoyce/agentbridge/internal/bridge"
	"github.com/mattjoyce/agentbridge/internal/config"
)

const (
	channelName    = "console"
	replyPrefix    = "agent> "
	historyLimit   = 100
	defaultPrompt  = "you> "
	defaultConvoID = "console"
)

// Options configures a console Channel. Stdin and Stdout default to the
// process terminal.
type Options struct {
	ConversationID string
	Prompt         string
	HistoryFile    string
	Stdin          io.ReadCloser
	Stdout         io.Writer
}

// Channel reads messages from a readline prompt.
type Channel struct {
	conversationID string
	rl             *readline.Instance
	out            io.Writer

	mu     sync.Mutex
	closed bool
}

// New creates a console Channel and its readline instance.
func New(opts Options) (*Channel, error) {
	if opts.ConversationID == "" {
		opts.ConversationID = defaultConvoID
	}
	if opts.Prompt == "" {
		opts.Prompt = defaultPrompt
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          opts.Prompt,
		HistoryFile:     opts.HistoryFile,
		HistoryLimit:    historyLimit,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           opts.Stdin,
		Stdout:          opts.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	return &Channel{
		conversationID: opts.ConversationID,
		rl:             rl,
		out:            opts.Stdout,
	}, nil
}

// NewFromConfig builds a console channel. conversationID overrides the
// configured one when non-empty.
func NewFromConfig(cfg config.ConsoleConfig, conversationID string) (*Channel, error) {
	if conversationID == "" {
		conversationID = cfg.ConversationID
	}
	return New(Options{
		ConversationID: conversationID,
		Prompt:         cfg.Prompt,
		HistoryFile:    cfg.HistoryFile,
	})
}

// Name returns "console".
func (c *Channel) Name() string { return channelName }

// Start reads lines until EOF, interrupt, "exit" or "quit", returning io.EOF,
// or until ctx is cancelled, returning nil.
func (c *Channel) Start(ctx context.Context, handle bridge.Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("read console input: %w", err)
		}

		text := strings.TrimSpace(line)
		switch text {
		case "":
			continue
		case "exit", "quit":
			return io.EOF
		}
		handle(bridge.InboundMessage{
			ConversationID: c.conversationID,
			Text:           text,
			Channel:        channelName,
		})
	}
}

// Reply prints text for the console conversation.
func (c *Channel) Reply(_ context.Context, conversationID, text string) error {
	if conversationID != c.conversationID {
		return fmt.Errorf("console: no such conversation %q", conversationID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.out
	if !c.closed {
		w = c.rl.Stdout()
	}
	_, err := io.WriteString(w, formatReply(text))
	return err
}

// Close ends the prompt. Replies written afterwards go straight to Stdout.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rl.Close()
}

func formatReply(text string) string {
	return replyPrefix + strings.ReplaceAll(text, "\n", "\n"+strings.Repeat(" ", len(replyPrefix))) + "\n"
}
