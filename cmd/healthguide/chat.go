package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/healthguide/internal/chat"
	"github.com/MrWong99/healthguide/internal/journal"
	"github.com/MrWong99/healthguide/internal/observe"
	"github.com/MrWong99/healthguide/internal/resilience"
)

const chatHelp = `Hello! I'm your Health Guide. I can point you to the right kind of
specialist, share health tips, or look up a medicine.

  /tip                  a daily health tip
  /fit                  a simple fitness routine
  /medicine <name>      structured facts about a medicine
  /image <path> [text]  analyse a photo of a medicine
  /specialist <name>    what a specialist does
  /other  /why          follow up on a recommendation
  /share <n>            print recommendation n for sharing
  /reset                start over
  /quit                 leave
`

const (
	chatRetryBase = 500 * time.Millisecond

	// maxImageBytes bounds /image uploads; inline data is limited by the API.
	maxImageBytes = 15 << 20
)

type chatAction int

const (
	actNone chatAction = iota
	actSend
	actMedicine
	actImage
	actShare
	actReset
	actHelp
	actQuit
)

type chatCommand struct {
	action chatAction
	text   string
	path   string // actImage
	index  int    // actShare, 1-based
}

var errUsage = errors.New("usage")

// parseChatCommand interprets one line of REPL input.
func parseChatCommand(line string) (chatCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return chatCommand{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return chatCommand{action: actSend, text: line}, nil
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return chatCommand{action: actQuit}, nil
	case "/help", "/?":
		return chatCommand{action: actHelp}, nil
	case "/reset":
		return chatCommand{action: actReset}, nil
	case "/tip":
		return chatCommand{action: actSend, text: chat.HealthTipPrompt}, nil
	case "/fit":
		return chatCommand{action: actSend, text: chat.FitnessPrompt}, nil
	case "/other":
		return chatCommand{action: actSend, text: chat.AlternativePrompt}, nil
	case "/why":
		return chatCommand{action: actSend, text: chat.ExplainPrompt}, nil
	case "/medicine":
		if arg == "" {
			return chatCommand{action: actSend, text: chat.MedicineQuestion}, nil
		}
		return chatCommand{action: actMedicine, text: arg}, nil
	case "/specialist":
		if arg == "" {
			return chatCommand{}, fmt.Errorf("%w: /specialist <name>", errUsage)
		}
		return chatCommand{action: actSend, text: chat.SpecialistPrompt(arg)}, nil
	case "/image":
		path, text, _ := strings.Cut(arg, " ")
		if path == "" {
			return chatCommand{}, fmt.Errorf("%w: /image <path> [text]", errUsage)
		}
		return chatCommand{action: actImage, path: path, text: strings.TrimSpace(text)}, nil
	case "/share":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return chatCommand{}, fmt.Errorf("%w: /share <n>", errUsage)
		}
		return chatCommand{action: actShare, index: n}, nil
	}
	return chatCommand{}, fmt.Errorf("unknown command %s (try /help)", name)
}

func (c *cli) runChat(ctx context.Context) error {
	gen, err := c.reg.CreateChat(c.cfg.Providers.Chat)
	if err != nil {
		return fmt.Errorf("create chat generator: %w", err)
	}
	if models := c.cfg.Chat.FallbackModels; len(models) > 0 {
		mf := resilience.NewModelFallback(gen, models, resilience.CircuitBreakerConfig{Logger: c.logger})
		c.fallback.Store(mf)
		gen = mf
	}
	var shares *journal.FileStore
	if c.cfg.Chat.ShareFile != "" {
		shares = journal.NewFileStore(c.cfg.Chat.ShareFile)
	}
	opts := []chat.Option{
		chat.WithModel(c.cfg.Providers.Chat.Model),
		chat.WithSystemInstruction(c.cfg.Chat.Instructions),
		chat.WithSearch(!c.cfg.Chat.DisableSearch),
		chat.WithLogger(c.logger),
		chat.WithMetrics(c.metrics),
	}
	if c.cfg.Chat.Retries > 0 {
		opts = append(opts, chat.WithRetries(c.cfg.Chat.Retries, chatRetryBase))
	}
	cs := chat.NewSession(gen, opts...)
	c.chat.Store(cs)
	defer c.watchConfig(nil)()

	fmt.Fprint(c.out, chatHelp)
	var cards []chat.Specialist
	lines := readLines(c.in)
	for {
		fmt.Fprint(c.out, "\n> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		cmd, err := parseChatCommand(line)
		if err != nil {
			fmt.Fprintln(c.out, err)
			continue
		}
		switch cmd.action {
		case actNone:
		case actQuit:
			return nil
		case actHelp:
			fmt.Fprint(c.out, chatHelp)
		case actReset:
			cs.Reset()
			cards = nil
			fmt.Fprintln(c.out, "Conversation cleared.")
		case actShare:
			if cmd.index > len(cards) {
				fmt.Fprintf(c.out, "No recommendation %d in the last reply.\n", cmd.index)
				continue
			}
			card := cards[cmd.index-1]
			fmt.Fprintln(c.out, card.ShareText())
			if shares != nil {
				if err := shares.Save(cs.ID(), card); err != nil {
					c.logger.Warn("save shared recommendation", "err", err)
					fmt.Fprintln(c.out, "Could not save this recommendation.")
				} else {
					fmt.Fprintf(c.out, "Saved to %s.\n", shares.Path())
				}
			}
		case actSend:
			cards = c.stream(ctx, func(ctx context.Context) iter.Seq2[chat.Chunk, error] {
				return cs.Send(ctx, cmd.text, nil)
			})
		case actMedicine:
			cards = c.stream(ctx, func(ctx context.Context) iter.Seq2[chat.Chunk, error] {
				return cs.MedicineDetails(ctx, cmd.text)
			})
		case actImage:
			img, err := loadImage(cmd.path)
			if err != nil {
				fmt.Fprintln(c.out, err)
				continue
			}
			cards = c.stream(ctx, func(ctx context.Context) iter.Seq2[chat.Chunk, error] {
				return cs.Send(ctx, cmd.text, img)
			})
		}
	}
}

// stream prints one reply to the terminal and returns the specialist cards
// it contained.
func (c *cli) stream(ctx context.Context, turn func(context.Context) iter.Seq2[chat.Chunk, error]) []chat.Specialist {
	ctx, span := observe.StartSpan(ctx, "cli.chat_turn")
	defer span.End()

	var (
		reply   strings.Builder
		sources chat.Sources
	)
	for chunk, err := range turn(ctx) {
		if err != nil {
			if errors.Is(err, chat.ErrEmptyMessage) {
				fmt.Fprintln(c.out, err)
				return nil
			}
			fmt.Fprintf(c.out, "\n%s", chat.Friendly(err))
			if cid := observe.CorrelationID(ctx); cid != "" {
				fmt.Fprintf(c.out, " (ref %s)", cid)
			}
			fmt.Fprintln(c.out)
			return nil
		}
		fmt.Fprint(c.out, chunk.Text)
		reply.WriteString(chunk.Text)
		sources = sources.Merge(chunk.Sources)
	}
	fmt.Fprintln(c.out)

	cards := chat.Specialists(reply.String())
	printCards(c.out, cards)
	printSources(c.out, sources)
	return cards
}

func printCards(w io.Writer, cards []chat.Specialist) {
	if len(cards) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecommended specialists:")
	for i, sp := range cards {
		fmt.Fprintf(w, "  %d. %s\n", i+1, sp.Name)
	}
	fmt.Fprintln(w, "Ask /specialist <name>, /other or /why; /share <n> prints a card.")
}

func printSources(w io.Writer, sources chat.Sources) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for i, s := range sources {
		title := s.Title
		if title == "" {
			title = s.URI
		}
		fmt.Fprintf(w, "  [%d] %s\n      %s\n", i+1, title, s.URI)
	}
}

func loadImage(path string) (*chat.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	if info.Size() > maxImageBytes {
		return nil, fmt.Errorf("image: %s is larger than %d MB", path, maxImageBytes>>20)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("image: %s does not look like an image (%s)", path, mimeType)
	}
	return &chat.Image{Data: data, MIMEType: mimeType}, nil
}
