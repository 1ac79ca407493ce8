package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xaenox/sparkgen/internal/events"
	"github.com/xaenox/sparkgen/internal/metrics"
	"github.com/xaenox/sparkgen/internal/models"
	"github.com/xaenox/sparkgen/internal/orchestrator"
	"github.com/xaenox/sparkgen/pkg/config"
	"go.uber.org/zap"
)

func loadApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg, logger, nil)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// withApp runs fn with a fully wired app and tears it down afterwards.
func withApp(fn func(ctx context.Context, a *app, out io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer func() {
			a.Close()
			_ = a.logger.Sync()
		}()
		return fn(cmd.Context(), a, cmd.OutOrStdout())
	}
}

func printMessages(out io.Writer, msgs []*models.GeneratedMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages.")
		return
	}
	for _, m := range msgs {
		badge := ""
		if m.IsFallback() {
			badge = " [offline]"
		}
		fmt.Fprintf(out, "%s  %s/%s  %s%s\n  %s\n",
			m.ID, m.Category.Label(), m.Tone.Label(), m.CreatedAt.Format(time.RFC3339), badge, m.Content)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate messages for a category and tone",
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		req, err := requestFromFlags(generateFlags)
		if err != nil {
			return err
		}
		res, err := a.orch.Generate(ctx, req)
		if errors.Is(err, orchestrator.ErrUnauthorized) {
			return fmt.Errorf("the generation service rejected the API key; check openai.api_key: %w", err)
		}
		if err != nil {
			return err
		}

		msgs := make([]*models.GeneratedMessage, len(res.Messages))
		for i := range res.Messages {
			msgs[i] = &res.Messages[i]
		}
		printMessages(out, msgs)
		fmt.Fprintf(out, "\norigin=%s attempts=%d quality=%s\n", res.Origin, res.Attempts, res.Quality)
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		return nil
	}),
}

type requestFlags struct {
	category string
	tone     string
	time     string
	context  string
	occasion string
	name     string
	hints    []string
	count    int
}

var generateFlags = &requestFlags{}

func requestFromFlags(f *requestFlags) (models.GenerationRequest, error) {
	category, err := models.ParseCategory(f.category)
	if err != nil {
		return models.GenerationRequest{}, err
	}
	tone, err := models.ParseTone(f.tone)
	if err != nil {
		return models.GenerationRequest{}, err
	}
	tod := models.TimeOfDay(f.time)
	if f.time == "" {
		tod = models.TimeOfDayAt(time.Now())
	}
	req := models.GenerationRequest{
		Category:        category,
		Tone:            tone,
		TimeOfDay:       tod,
		Context:         f.context,
		SpecialOccasion: f.occasion,
		RecipientName:   f.name,
		PartnerHints:    f.hints,
		Count:           f.count,
	}
	return req, req.Validate()
}

var recentLimit int
var recentCategory string

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently generated messages",
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		var msgs []*models.GeneratedMessage
		var err error
		if recentCategory != "" {
			category, perr := models.ParseCategory(recentCategory)
			if perr != nil {
				return perr
			}
			msgs, err = a.store.LoadByCategory(ctx, category, recentLimit)
		} else {
			msgs, err = a.store.LoadRecent(ctx, recentLimit)
		}
		if err != nil {
			return err
		}
		printMessages(out, msgs)
		return nil
	}),
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search messages by text, category or tone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app, out io.Writer) error {
			msgs, err := a.store.Search(ctx, args[0], searchLimit)
			if err != nil {
				return err
			}
			printMessages(out, msgs)
			return nil
		})(cmd, args)
	},
}

var listFavorites bool

var favoriteCmd = &cobra.Command{
	Use:   "favorite [id]",
	Short: "Toggle a favorite, or list favorites with --list",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app, out io.Writer) error {
			if listFavorites || len(args) == 0 {
				msgs, err := a.store.LoadFavorites(ctx, 0)
				if err != nil {
					return err
				}
				printMessages(out, msgs)
				return nil
			}
			fav, err := a.store.ToggleFavorite(ctx, args[0])
			if err != nil {
				return err
			}
			if fav {
				fmt.Fprintf(out, "%s added to favorites\n", args[0])
			} else {
				fmt.Fprintf(out, "%s removed from favorites\n", args[0])
			}
			return nil
		})(cmd, args)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage statistics",
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		stats, err := a.store.Statistics(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, stats)
	}),
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Sweep expired cache entries and compact the store",
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		report, err := a.maintenance().RunOnce(ctx)
		if report != nil {
			if perr := printJSON(out, report); perr != nil {
				return perr
			}
		}
		return err
	}),
}

var recommendFlags struct {
	category string
	lat, lon float64
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Show cached recommendations for a category and location",
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		category, err := models.ParseCategory(recommendFlags.category)
		if err != nil {
			return err
		}
		items, err := a.orch.Recommendations(ctx, category, recommendFlags.lat, recommendFlags.lon)
		if err != nil {
			return err
		}
		return printJSON(out, items)
	}),
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Show the category catalog",
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		items, stale, err := a.orch.Categories(ctx)
		if err != nil {
			return err
		}
		if stale {
			fmt.Fprintln(out, "(offline: showing last known catalog)")
		}
		return printJSON(out, items)
	}),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled maintenance, expose metrics and forward events",
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer) error {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc := a.maintenance()
		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer svc.Stop()

		if a.cfg.Events.NATSURL != "" {
			nc, err := events.ConnectNATS(a.cfg.Events.NATSURL, a.logger)
			if err != nil {
				return err
			}
			defer nc.Close()
			go events.NewBridge(a.broker, nc, a.cfg.Events.SubjectPrefix, a.logger).Run(ctx)
			a.logger.Info("Forwarding events to NATS", zap.String("url", a.cfg.Events.NATSURL))
		}

		sub := a.broker.Subscribe()
		defer a.broker.Unsubscribe(sub)
		go func() {
			for e := range sub {
				a.logger.Debug("Event", zap.String("type", string(e.Type)), zap.Any("metadata", e.Metadata))
			}
		}()

		errCh := make(chan error, 1)
		var srv *http.Server
		if a.cfg.Metrics.Enabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv = &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("metrics server error: %w", err)
				}
			}()
			a.logger.Info("Serving metrics", zap.String("listen", a.cfg.Metrics.Listen))
		}

		fmt.Fprintln(out, "sparkgen is running. Press Ctrl+C to stop.")
		var err error
		select {
		case <-ctx.Done():
		case err = <-errCh:
		}

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				a.logger.Warn("Failed to shut down metrics server", zap.Error(serr))
			}
		}
		return err
	}),
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&generateFlags.category, "category", string(models.CategoryRomantic), "message category")
	f.StringVar(&generateFlags.tone, "tone", string(models.ToneSweet), "message tone")
	f.StringVar(&generateFlags.time, "time", "", "time of day (morning, afternoon, evening, night); defaults to now")
	f.StringVar(&generateFlags.context, "context", "", "free-text context")
	f.StringVar(&generateFlags.occasion, "occasion", "", "special occasion")
	f.StringVar(&generateFlags.name, "name", "", "recipient name")
	f.StringSliceVar(&generateFlags.hints, "hint", nil, "partner hint (repeatable)")
	f.IntVar(&generateFlags.count, "count", models.DefaultCount, "number of messages")

	recentCmd.Flags().IntVar(&recentLimit, "limit", 20, "maximum messages to show (0 for all)")
	recentCmd.Flags().StringVar(&recentCategory, "category", "", "only this category")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum messages to show (0 for all)")
	favoriteCmd.Flags().BoolVar(&listFavorites, "list", false, "list favorites instead of toggling")

	rf := recommendCmd.Flags()
	rf.StringVar(&recommendFlags.category, "category", string(models.CategoryRomantic), "message category")
	rf.Float64Var(&recommendFlags.lat, "lat", 0, "latitude")
	rf.Float64Var(&recommendFlags.lon, "lon", 0, "longitude")
}
