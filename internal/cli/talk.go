package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ent0n29/booktalk/internal/app"
	"github.com/ent0n29/booktalk/internal/config"
	"github.com/ent0n29/booktalk/internal/observability"
	"github.com/ent0n29/booktalk/internal/persona"
	"github.com/ent0n29/booktalk/internal/plan"
	"github.com/ent0n29/booktalk/internal/quota"
	"github.com/ent0n29/booktalk/internal/session"
	"github.com/ent0n29/booktalk/internal/transport"
	"github.com/ent0n29/booktalk/internal/voicesession"
)

type talkOptions struct {
	userID   string
	tier     string
	book     persona.Book
	embedded bool
}

func newTalkCmd() *cobra.Command {
	var opts talkOptions

	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Drive a voice session from the terminal",
		Long: `Drive one voice session orchestrator interactively. Commands are read
from stdin, one per line:

  start | stop | clear | state | quit

With VOICE_TRANSPORT=mock the transport is scripted from the prompt:

  say <text>    user utterance (partial then final)
  reply <text>  assistant turn (speech-start, transcript, speech-end)
  hangup        remote side ends the call
  fail <desc>   transport error with the given description`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return talk(cmd.Context(), cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "", "signed-in user id (empty means signed out)")
	cmd.Flags().StringVar(&opts.tier, "plan", string(plan.Free), "caller plan tier: free|standard|pro")
	cmd.Flags().StringVar(&opts.book.ID, "book-id", "book-1", "book identifier")
	cmd.Flags().StringVar(&opts.book.Title, "title", "The Left Hand of Darkness", "book title")
	cmd.Flags().StringVar(&opts.book.Author, "author", "Ursula K. Le Guin", "book author")
	cmd.Flags().StringVar(&opts.book.Persona, "persona", persona.DefaultPersona, "narrator persona")
	cmd.Flags().BoolVar(&opts.embedded, "embedded", false, "run an in-process quota authority instead of calling QUOTA_URL")

	return cmd
}

func talk(ctx context.Context, cfg config.Config, opts talkOptions, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace + "_talk")

	handle, mock, info, err := app.NewTransportHandle(cfg)
	if err != nil {
		return err
	}

	var embedded *quota.Authority
	if opts.embedded {
		embedded = quota.NewAuthority(session.NewManager(), quota.AuthorityConfig{
			Plans:       plan.StaticDirectory{opts.userID: plan.Parse(opts.tier)},
			ExpiryGrace: cfg.QuotaExpiryGrace,
		})
	}
	client, err := app.NewQuotaClient(cfg, embedded, metrics)
	if err != nil {
		return err
	}

	p := &printer{w: out}
	o, err := voicesession.New(voicesession.Config{
		Identity:     voicesession.Identity{UserID: opts.userID, Tier: plan.Parse(opts.tier)},
		Book:         opts.book,
		AssistantID:  cfg.VoiceAssistantID,
		Quota:        client,
		Transport:    handle,
		Metrics:      metrics,
		TickInterval: cfg.SessionTickInterval,
		CloseTimeout: cfg.QuotaCloseTimeout,
		OnChange:     p.onChange,
	})
	if err != nil {
		return err
	}
	defer o.Close()

	p.printf("transport: %s (%s)\n", info.Kind, info.Detail)
	return runTalkLoop(ctx, o, mock, in, p)
}

func runTalkLoop(ctx context.Context, o *voicesession.Orchestrator, mock *transport.Mock, in io.Reader, p *printer) error {
	lines := bufio.NewScanner(in)
	for lines.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		verb, arg, _ := strings.Cut(strings.TrimSpace(lines.Text()), " ")
		arg = strings.TrimSpace(arg)
		switch strings.ToLower(verb) {
		case "":
			continue
		case "start":
			if err := o.Start(ctx); err != nil && !errors.Is(err, voicesession.ErrDenied) {
				p.printf("start: %v\n", err)
			}
		case "stop":
			o.Stop()
		case "clear":
			o.ClearError()
		case "state":
			p.printState(o.State())
		case "quit", "exit":
			return nil
		case "say", "reply", "hangup", "fail":
			if mock == nil {
				p.printf("%s needs VOICE_TRANSPORT=mock\n", verb)
				continue
			}
			scriptMock(mock, strings.ToLower(verb), arg)
		default:
			p.printf("unknown command %q\n", verb)
		}
	}
	return lines.Err()
}

func scriptMock(m *transport.Mock, verb, arg string) {
	switch verb {
	case "say":
		words := strings.Fields(arg)
		if len(words) > 1 {
			m.Transcript("user", "partial", strings.Join(words[:len(words)/2], " "))
		}
		m.Transcript("user", "final", arg)
	case "reply":
		m.Emit(transport.Event{Type: transport.EventSpeechStart})
		m.Transcript("assistant", "final", arg)
		m.Emit(transport.Event{Type: transport.EventSpeechEnd})
	case "hangup":
		m.End()
	case "fail":
		if arg == "" {
			arg = "unknown failure"
		}
		m.Fail(errors.New(arg))
	}
}

// printer reports state changes as they happen.
type printer struct {
	mu       sync.Mutex
	w        io.Writer
	status   voicesession.Status
	messages int
	errMsg   string
	elapsed  int
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) onChange(s voicesession.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Status != p.status {
		fmt.Fprintf(p.w, "[%s]\n", s.Status)
		p.status = s.Status
	}
	if len(s.Messages) < p.messages {
		p.messages = 0
	}
	for _, m := range s.Messages[p.messages:] {
		fmt.Fprintf(p.w, "  %s: %s\n", m.Role, m.Content)
	}
	p.messages = len(s.Messages)
	if s.Error != p.errMsg {
		if s.Error != "" {
			billing := ""
			if s.BillingError {
				billing = " (upgrade required)"
			}
			fmt.Fprintf(p.w, "! %s%s\n", s.Error, billing)
		}
		p.errMsg = s.Error
	}
	if s.Active && s.ElapsedSeconds != p.elapsed && s.ElapsedSeconds%60 == 0 && s.ElapsedSeconds > 0 {
		fmt.Fprintf(p.w, "  %d:00 of %d:00\n", s.ElapsedSeconds/60, s.MaxDurationSeconds/60)
	}
	p.elapsed = s.ElapsedSeconds
}

func (p *printer) printState(s voicesession.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "status=%s active=%t session=%s elapsed=%ds/%ds\n",
		s.Status, s.Active, s.SessionID, s.ElapsedSeconds, s.MaxDurationSeconds)
	if s.LiveUser != "" {
		fmt.Fprintf(p.w, "  user (live): %s\n", s.LiveUser)
	}
	if s.LiveAssistant != "" {
		fmt.Fprintf(p.w, "  assistant (live): %s\n", s.LiveAssistant)
	}
	if s.Error != "" {
		fmt.Fprintf(p.w, "  error: %s (billing=%t)\n", s.Error, s.BillingError)
	}
}
