package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MegaGrindStone/minutes-web-ui/internal/chat"
	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
	"github.com/MegaGrindStone/minutes-web-ui/internal/services"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultWordWrap = 80

var errNoStore = errors.New("no archive configured: set store.path")

func newAskCmd(flags *rootFlags) *cobra.Command {
	var (
		render bool
		width  int
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the recording and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			endpoint, err := cfg.endpoint()
			if err != nil {
				return err
			}
			asker := services.NewQueryClient(endpoint, logger, services.WithRequestTimeout(cfg.RequestTimeout))

			var archive chat.Archive
			if cfg.Store.Path != "" {
				boltDB, err := openArchive(cfg.Store.Path)
				if err != nil {
					return err
				}
				defer boltDB.Close()
				archive = boltDB
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			question := strings.Join(args, " ")
			return ask(ctx, asker, archive, logger, question, cmd.OutOrStdout(), render, width)
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "print the finished answer as formatted Markdown")
	cmd.Flags().IntVar(&width, "width", defaultWordWrap, "word wrap width used with --render")
	return cmd
}

// ask streams the answer to question into out as it arrives, or prints it formatted once complete
// when render is set.
func ask(
	ctx context.Context,
	asker chat.Asker,
	archive chat.Archive,
	logger zerolog.Logger,
	question string,
	out io.Writer,
	render bool,
	width int,
) error {
	opts := []chat.Option{chat.WithLogger(logger)}
	if archive != nil {
		opts = append(opts, chat.WithArchive(archive))
	}
	box := chat.NewBox(asker, opts...)
	defer box.Close()

	if !render {
		printed := 0
		box.Subscribe(func(e chat.Event) {
			if e.Type != chat.EventUpdated || !e.Message.IsBot() {
				return
			}
			fmt.Fprint(out, e.Message.Content[printed:])
			printed = len(e.Message.Content)
		})
	}

	if err := box.Send(ctx, question); err != nil {
		if !render {
			fmt.Fprintln(out)
		}
		return err
	}

	if !render {
		fmt.Fprintln(out)
	}
	// An interrupted answer is partial, even though the Box settled without an error.
	if err := ctx.Err(); err != nil {
		return err
	}
	if !render {
		return nil
	}

	msgs := box.Messages()
	return renderMarkdown(out, msgs[len(msgs)-1].Content, width)
}

func newRenderCmd() *cobra.Command {
	var width int

	cmd := &cobra.Command{
		Use:   "render <result.json>",
		Short: "Print a result's timeline and summary as formatted Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("error opening result: %w", err)
			}
			defer f.Close()

			var result models.Result
			if err := json.NewDecoder(f).Decode(&result); err != nil {
				return fmt.Errorf("error decoding result: %w", err)
			}
			return renderMarkdown(cmd.OutOrStdout(), resultMarkdown(result), width)
		},
	}
	cmd.Flags().IntVar(&width, "width", defaultWordWrap, "word wrap width")
	return cmd
}

func resultMarkdown(r models.Result) string {
	var sb strings.Builder
	sb.WriteString("# Timeline\n\n")
	sb.WriteString(r.Timeline)
	sb.WriteString("\n\n# Summary\n\n")
	sb.WriteString(r.Summary)
	sb.WriteString("\n")
	return sb.String()
}

func renderMarkdown(out io.Writer, source string, width int) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("error creating markdown renderer: %w", err)
	}

	rendered, err := renderer.Render(source)
	if err != nil {
		return fmt.Errorf("error rendering markdown: %w", err)
	}
	_, err = io.WriteString(out, rendered)
	return err
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List archived questions and answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return errNoStore
			}

			boltDB, err := services.NewBoltDB(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer boltDB.Close()

			exchanges, err := boltDB.Exchanges(cmd.Context())
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), exchanges)
			return nil
		},
	}
}

func printHistory(out io.Writer, exchanges []models.Exchange) {
	if len(exchanges) == 0 {
		fmt.Fprintln(out, "No archived exchanges.")
		return
	}
	for _, ex := range exchanges {
		fmt.Fprintf(out, "[%s] Q: %s\n", ex.AskedAt.Format("2006-01-02 15:04:05"), ex.Question)
		if ex.Answer != "" {
			fmt.Fprintf(out, "A: %s\n", ex.Answer)
		}
		if ex.Failed {
			fmt.Fprintf(out, "(failed: %s)\n", ex.Error)
		}
		fmt.Fprintln(out)
	}
}
