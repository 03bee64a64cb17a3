package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/metcalfc/leaf/internal/config"
	"github.com/metcalfc/leaf/internal/engine"
	"github.com/metcalfc/leaf/internal/highlight"
	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/reader"
	"github.com/metcalfc/leaf/internal/state"
	"github.com/metcalfc/leaf/internal/termview"
)

// Version info (injected via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type envKey struct{}

// appEnv keeps everything commands need in a single place.
type appEnv struct {
	Cfg   *config.Config
	Log   *zap.Logger
	Store *state.StateStore

	start    time.Time
	closeLog func() error
}

func envFromContext(ctx context.Context) *appEnv {
	if env, ok := ctx.Value(envKey{}).(*appEnv); ok {
		return env
	}
	// this should never happen
	panic("application environment not found in context")
}

func contextWithEnv(ctx context.Context) context.Context {
	return context.WithValue(ctx, envKey{}, &appEnv{start: time.Now(), Log: zap.NewNop()})
}

// initializeAppContext prepares configuration, logging and the state store
// after the command line has been parsed.
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	if cmd.NArg() == 0 {
		return ctx, nil
	}

	env := envFromContext(ctx)

	configFile := cmd.String("config")
	if len(configFile) == 0 {
		if p := config.DefaultPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				configFile = p
			}
		}
	}
	if env.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if cmd.Bool("debug") {
		env.Cfg.Logging.ConsoleLogger.Level = "debug"
	}
	if cmd.Args().First() == "read" && !consoleLogging {
		// the terminal belongs to the reader
		env.Cfg.Logging.ConsoleLogger.Level = "none"
	}
	if env.Log, env.closeLog, err = env.Cfg.Logging.Prepare(appName); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	if env.Store, err = state.NewStateStore(); err != nil {
		return ctx, fmt.Errorf("unable to open reading state: %w", err)
	}

	env.Log.Debug("Program started", zap.Strings("args", os.Args), zap.String("ver", version), zap.String("runtime", runtime.Version()), zap.String("state", env.Store.Path()))
	if len(configFile) == 0 {
		env.Log.Debug("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) (err error) {
	env := envFromContext(ctx)

	env.Log.Debug("Program ended", zap.Duration("elapsed", time.Since(env.start)), zap.Strings("parsed args", cmd.Args().Slice()))
	if er := env.Log.Sync(); er != nil && !errors.Is(er, syscall.EINVAL) && !errors.Is(er, syscall.ENOTTY) {
		err = multierr.Append(err, fmt.Errorf("unable to sync log: %w", er))
	}
	if env.closeLog != nil {
		if er := env.closeLog(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close log file: %w", er))
		}
	}
	return
}

var errWasHandled bool

func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	env := envFromContext(ctx)
	if env.closeLog != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = consoleLogging && env.Cfg.Logging.ConsoleLogger.Level != "none"
	}
}

func newApp() *cli.Command {
	fileArg := "FILE"
	return &cli.Command{
		Name:            appName,
		Usage:           appUsage,
		Version:         fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		ExitErrHandler:  exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "log debug messages to the console"},
		},
		Commands: []*cli.Command{
			{
				Name:      "read",
				Usage:     "Opens a book for reading",
				ArgsUsage: fileArg,
				Action:    readBook,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "fresh", Usage: "ignore saved reading position"},
					&cli.IntFlag{Name: "chapter", Value: -1, Usage: "start at chapter `N` (counting from 0)"},
				},
			},
			{
				Name:      "pages",
				Usage:     "Paginates a chapter for a terminal and prints the pages",
				ArgsUsage: fileArg,
				Action:    printPages,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "chapter", Usage: "chapter `N` to paginate (counting from 0)"},
					&cli.IntFlag{Name: "width", Value: 60, Usage: "page width in `COLUMNS`"},
					&cli.IntFlag{Name: "height", Value: 20, Usage: "page height in `ROWS`"},
				},
			},
			{
				Name:      "toc",
				Usage:     "Prints the table of contents",
				ArgsUsage: fileArg,
				Action:    printTOC,
			},
			{
				Name:  "highlight",
				Usage: "Manages saved highlights",
				Commands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Highlights text in a chapter",
						ArgsUsage: fileArg + " TEXT",
						Action:    addHighlight,
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "chapter", Usage: "chapter `N` holding the text"},
							&cli.StringFlag{Name: "color", Value: highlight.DefaultColor, Usage: "highlight `COLOR`"},
							&cli.StringFlag{Name: "note", Usage: "attach `NOTE` to the highlight"},
						},
					},
					{
						Name:      "list",
						Usage:     "Lists highlights and where they are found",
						ArgsUsage: fileArg,
						Action:    listHighlights,
					},
					{
						Name:      "remove",
						Usage:     "Removes a highlight",
						ArgsUsage: fileArg + " ID",
						Action:    removeHighlight,
					},
				},
			},
			{
				Name:      "dumpconfig",
				Usage:     "Dumps actual configuration (YAML)",
				ArgsUsage: "DESTINATION",
				Action:    outputConfiguration,
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(contextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deffered functions after that
	defer func() {
		stop()
		if err != nil {
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = newApp().Run(ctx, os.Args)
}

// openBook opens the file named by the first argument and identifies it in
// the state store.
func openBook(ctx context.Context, cmd *cli.Command) (*reader.Book, string, error) {
	env := envFromContext(ctx)
	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return nil, "", errors.New("no book has been specified")
	}
	book, err := reader.Open(src)
	if err != nil {
		return nil, "", fmt.Errorf("unable to open '%s': %w", src, err)
	}
	hash, err := state.ComputeHash(src)
	if err != nil {
		return nil, "", fmt.Errorf("unable to identify '%s': %w", src, err)
	}
	if book.Skipped != nil {
		env.Log.Warn("Parts of the book could not be read", zap.String("file", src), zap.Error(book.Skipped))
	}
	env.Log.Debug("Book opened", zap.String("file", src), zap.String("title", book.Title), zap.String("format", book.Format), zap.Int("chapters", len(book.Chapters)), zap.Int("words", book.Words()))
	return book, hash, nil
}

// ellipsis shortens s to n runes.
func ellipsis(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func chapterArg(cmd *cli.Command, book *reader.Book) (*reader.Chapter, int, error) {
	n := int(cmd.Int("chapter"))
	ch, ok := book.Chapter(n)
	if !ok {
		return nil, 0, fmt.Errorf("chapter %d out of range, book has %d", n, len(book.Chapters))
	}
	return ch, n, nil
}

// terminalSettings returns pagination settings for a terminal page of the
// given size. Every block is measured one row taller for the blank line
// that follows it, so the page gets one row of slack.
func terminalSettings(cfg *config.Config, cols, rows int) layout.Settings {
	return cfg.LayoutSettings(float64(cols), float64(rows+1), 1)
}

func printPages(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)
	book, hash, err := openBook(ctx, cmd)
	if err != nil {
		return err
	}
	ch, n, err := chapterArg(cmd, book)
	if err != nil {
		return err
	}
	cols, rows := int(cmd.Int("width")), int(cmd.Int("height"))

	sess := engine.New(termview.Oracle{}, nil, env.Cfg.SessionOptions(float64(cols)), env.Log.Named("engine"))
	defer sess.Close()
	sess.ApplyHighlights(env.Store.Highlights(hash, n))
	res, err := sess.Load(ctx, ch.Doc, terminalSettings(env.Cfg, cols, rows), 0)
	if err != nil {
		return err
	}
	for i := range res.Pages {
		fmt.Printf("── %s ── page %d/%d ──\n", ch.Title, i+1, res.TotalPages)
		fmt.Println(termview.Render(sess.RenderPage(i), cols))
		fmt.Println()
	}
	return nil
}

func printTOC(ctx context.Context, cmd *cli.Command) error {
	book, _, err := openBook(ctx, cmd)
	if err != nil {
		return err
	}
	fmt.Println(book.Title)
	for _, e := range book.TOC {
		fmt.Printf("%s%s (chapter %d)\n", strings.Repeat("  ", e.Level+1), e.Title, e.Chapter)
	}
	return nil
}

func addHighlight(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)
	book, hash, err := openBook(ctx, cmd)
	if err != nil {
		return err
	}
	ch, n, err := chapterArg(cmd, book)
	if err != nil {
		return err
	}
	text := strings.Join(cmd.Args().Slice()[1:], " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("no text to highlight")
	}
	anchor, ok := highlight.NewLocator(ch.Doc.Units()).Locate(text)
	if !ok {
		return fmt.Errorf("text not found in chapter %d (%s)", n, ch.Title)
	}
	hl, err := env.Store.AddHighlight(hash, n, text, cmd.String("color"), cmd.String("note"))
	if err != nil {
		return fmt.Errorf("unable to save highlight: %w", err)
	}
	env.Log.Info("Highlight added", zap.String("id", hl.ID), zap.Int("chapter", n), zap.Int("segments", len(anchor.Segments)))
	fmt.Println(hl.ID)
	return nil
}

func listHighlights(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)
	book, hash, err := openBook(ctx, cmd)
	if err != nil {
		return err
	}
	saved := env.Store.Get(hash).Highlights
	locators := make(map[int]*highlight.Locator)
	for _, hl := range saved {
		where := "not found"
		if ch, ok := book.Chapter(hl.Chapter); ok {
			loc, ok := locators[hl.Chapter]
			if !ok {
				loc = highlight.NewLocator(ch.Doc.Units())
				locators[hl.Chapter] = loc
			}
			if a, ok := loc.Locate(hl.Text); ok {
				var parts []string
				for _, s := range a.Segments {
					parts = append(parts, fmt.Sprintf("%d:%d-%d", s.TextIndex, s.Start, s.End))
				}
				where = strings.Join(parts, " ")
			}
		}
		fmt.Printf("%s\tchapter %d\t%s\t%q\t%s\n", hl.ID, hl.Chapter, hl.Color, hl.Text, where)
	}
	return nil
}

func removeHighlight(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)
	_, hash, err := openBook(ctx, cmd)
	if err != nil {
		return err
	}
	id := cmd.Args().Get(1)
	if id == "" {
		return errors.New("no highlight id has been specified")
	}
	return env.Store.RemoveHighlight(hash, id)
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	out := os.Stdout
	if fname := cmd.Args().Get(0); len(fname) > 0 {
		f, err := os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer f.Close()
		out = f
	}
	data, err := config.Dump(env.Cfg)
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
