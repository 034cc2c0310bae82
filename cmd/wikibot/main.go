// Command wikibot is a thin CLI over the bot runtime: list category
// members, fetch page content, and make edits against any registered
// wiki family.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwbot-go/mwbot/site"
	"github.com/mwbot-go/mwbot/tracing"
)

var (
	flagFamily  string
	flagCode    string
	flagVerbose bool

	registry *site.Registry
	shutdown func(context.Context) error
)

func defaultFamilies() []site.Family {
	return []site.Family{
		{Name: "wikipedia", URLTemplate: "https://%s.wikipedia.org/w/api.php"},
		{Name: "wiktionary", URLTemplate: "https://%s.wiktionary.org/w/api.php"},
		{Name: "wikivoyage", URLTemplate: "https://%s.wikivoyage.org/w/api.php"},
		{Name: "commons", URLTemplate: "https://commons.wikimedia.org/w/api.php"},
		{Name: "wikidata", URLTemplate: "https://www.wikidata.org/w/api.php"},
	}
}

func resolveSite() (*site.Site, error) {
	return registry.Resolve(flagFamily, flagCode)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wikibot",
		Short:         "MediaWiki bot runtime CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelWarn
			if flagVerbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			var err error
			shutdown, err = tracing.Setup(cmd.Context(), tracing.DefaultConfig())
			if err != nil {
				return fmt.Errorf("tracing setup failed: %w", err)
			}

			registry = site.NewRegistry(site.LoadConfig(), site.WithLogger(logger))
			for _, f := range defaultFamilies() {
				registry.Register(f)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdown != nil {
				return shutdown(cmd.Context())
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flagFamily, "family", "wikipedia", "wiki family")
	root.PersistentFlags().StringVar(&flagCode, "code", "en", "site code within the family")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newListCmd(), newGetCmd(), newEditCmd())
	return root
}

func newListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <category>",
		Short: "List the members of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSite()
			if err != nil {
				return err
			}

			it := s.CategoryMembers(args[0])
			n := 0
			for it.Next(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), it.Item().Title)
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return it.Err()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many titles (0 = all)")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <title>",
		Short: "Print the wikitext of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSite()
			if err != nil {
				return err
			}

			title, err := s.NormalizeTitle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			content, err := s.PageContent(cmd.Context(), title)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}
}

func newEditCmd() *cobra.Command {
	var (
		file    string
		summary string
		minor   bool
		bot     bool
	)
	cmd := &cobra.Command{
		Use:   "edit <title>",
		Short: "Replace a page's content from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSite()
			if err != nil {
				return err
			}

			var text []byte
			if file != "" {
				text, err = os.ReadFile(file)
			} else {
				text, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}

			revID, err := s.SavePage(cmd.Context(), args[0], string(text), site.EditOptions{
				Summary: summary,
				Minor:   minor,
				Bot:     bot,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s as revision %d\n", args[0], revID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read content from this file instead of stdin")
	cmd.Flags().StringVar(&summary, "summary", "", "edit summary")
	cmd.Flags().BoolVar(&minor, "minor", false, "mark the edit minor")
	cmd.Flags().BoolVar(&bot, "bot", true, "mark the edit with the bot flag")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
