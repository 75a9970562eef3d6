package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chat-relay/internal/config"
	"github.com/zhouzirui/chat-relay/internal/handler"
	"github.com/zhouzirui/chat-relay/internal/handler/telegram"
	chatmodel "github.com/zhouzirui/chat-relay/internal/model/chat"
	"github.com/zhouzirui/chat-relay/internal/service/prompt"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
)

const localUser = "local"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the Telegram bot",
		Long: `Run the relay transports until interrupted.

The HTTP API listens on PORT unless RELAY_HTTP_ENABLED=false. The Telegram bot
starts when TELEGRAM_BOT_TOKEN is set. Both share one session store, so a
user's history is the same on every transport.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}

			if !cfg.Server.Enabled && !cfg.Telegram.Enabled() {
				return fmt.Errorf("nothing to serve: set TELEGRAM_BOT_TOKEN or RELAY_HTTP_ENABLED=true")
			}

			g, ctx := errgroup.WithContext(ctx)
			if cfg.Server.Enabled {
				router := handler.NewRouter(a.personas, a.persona.ID, a.sessions, a.relay)
				g.Go(func() error {
					return startServer(ctx, cfg.Server, router)
				})
			}
			if cfg.Telegram.Enabled() {
				client := telegram.NewClient(cfg.Telegram.BotURL(), cfg.Telegram.FileURL(), cfg.Timeouts.Transport)
				bot := telegram.NewBot(client, a.relay, cfg.Telegram)
				g.Go(func() error {
					return bot.Run(ctx)
				})
			} else {
				log.Println("TELEGRAM_BOT_TOKEN 未配置，跳过 Telegram 机器人")
			}

			return g.Wait()
		},
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("relay API listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func chatCmd() *cobra.Command {
	var audioDir string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the model from the terminal",
		Long: `Read messages from stdin, one per line, and print the rendered replies.

/reset clears the history and /quit exits. With --audio-dir, synthesized replies
are written there as files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			return runChat(ctx, a.relay, cmd.InOrStdin(), cmd.OutOrStdout(), audioDir)
		},
	}

	cmd.Flags().StringVar(&audioDir, "audio-dir", "", "Directory for synthesized reply audio")
	return cmd
}

func runChat(ctx context.Context, r *relay.Orchestrator, in io.Reader, out io.Writer, audioDir string) error {
	fmt.Fprintln(out, r.Greeting())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/start":
			fmt.Fprintln(out, r.Greeting())
			continue
		case "/reset":
			fmt.Fprintln(out, r.Reset(localUser).Text)
			continue
		}

		err := r.HandleStream(ctx, localUser, relay.TextInput(line), func(msg relay.Outbound) error {
			return printOutbound(out, msg, audioDir)
		})
		if err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

func printOutbound(out io.Writer, msg relay.Outbound, audioDir string) error {
	if msg.Kind != relay.KindAudio {
		_, err := fmt.Fprintln(out, msg.Text)
		return err
	}
	if audioDir == "" {
		_, err := fmt.Fprintf(out, "[audio: %d bytes %s]\n", len(msg.Audio.Data), msg.Audio.Format)
		return err
	}

	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return fmt.Errorf("creating audio dir: %w", err)
	}
	path := filepath.Join(audioDir, uuid.NewString()+"."+msg.Audio.Format)
	if err := os.WriteFile(path, msg.Audio.Data, 0o644); err != nil {
		return fmt.Errorf("writing audio: %w", err)
	}
	_, err := fmt.Fprintf(out, "[audio: %s]\n", path)
	return err
}

func promptCmd() *cobra.Command {
	var budget int

	cmd := &cobra.Command{
		Use:   "prompt [message...]",
		Short: "Preview the prompt sent for a conversation",
		Long: `Print the prompt the relay would send to the model.

Each argument is one turn, alternating user and assistant starting with the
user, so "prompt hi hello 'how are you'" previews a three turn history.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("budget") {
				cfg.Prompt.Budget = budget
			}
			_, p, builder := newPromptBuilder(cfg)
			return runPrompt(cmd.OutOrStdout(), p.ID, builder.Plan(previewHistory(args)))
		},
	}

	cmd.Flags().IntVar(&budget, "budget", 0, "Override RELAY_PROMPT_BUDGET")
	return cmd
}

func previewHistory(messages []string) []chatmodel.Turn {
	history := make([]chatmodel.Turn, 0, len(messages))
	for i, content := range messages {
		role := chatmodel.RoleUser
		if i%2 == 1 {
			role = chatmodel.RoleAssistant
		}
		history = append(history, chatmodel.Turn{Role: role, Content: content})
	}
	return history
}

func runPrompt(out io.Writer, personaID string, plan prompt.Plan) error {
	fmt.Fprintf(out, "# persona=%s words=%d persona_words=%d included=%d dropped=%d\n",
		personaID, plan.Words, plan.PersonaWords, plan.Included(), plan.Dropped)
	if plan.PersonaOverBudget {
		fmt.Fprintln(out, "# warning: the persona alone exceeds the budget")
	}
	_, err := fmt.Fprintln(out, plan.String())
	return err
}
