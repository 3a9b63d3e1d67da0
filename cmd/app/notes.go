package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/zettel/internal"
	"github.com/starford/zettel/internal/mdcodec"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/notes"
	"github.com/starford/zettel/internal/transfer"
)

// Swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
	now              = time.Now
)

type noteAction func(ctx context.Context, cmd *cli.Command, repo *notes.Repository) error

// withSession opens the configured storage around a one-shot command.
// Logs go to stderr at warning level or above so stdout stays clean.
func withSession(fn noteAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		appCfg := cfg.App
		if appCfg.LogLevel < slog.LevelWarn {
			appCfg.LogLevel = slog.LevelWarn
		}
		sess, err := internal.OpenSession(ctx, cfg, internal.NewLogger(appCfg, os.Stderr), nil)
		if err != nil {
			return err
		}
		defer sess.Close()
		return fn(ctx, cmd, sess.Repo)
	}
}

func firstArg(cmd *cli.Command, what string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	return v, nil
}

// contentFlag reads --content, taking stdin when it is "-".
func contentFlag(cmd *cli.Command) (string, error) {
	v := cmd.String("content")
	if v != "-" {
		return v, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

// report prints the outcome of a change. A persistence failure is shown as
// a warning; the command still succeeds.
func report(msg string, err error) error {
	var pe *notes.PersistError
	if errors.As(err, &pe) {
		fmt.Fprintf(stdout, "%s (warning: %v)\n", msg, pe)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, msg)
	return nil
}

func printList(list []models.Note) {
	for _, n := range list {
		line := n.ID + "\t" + n.Title
		if len(n.Tags) > 0 {
			line += "\t#" + strings.Join(n.Tags, " #")
		}
		fmt.Fprintln(stdout, line)
	}
}

func newNote(ctx context.Context, cmd *cli.Command, repo *notes.Repository) error {
	title, err := firstArg(cmd, "TITLE")
	if err != nil {
		return err
	}
	content, err := contentFlag(cmd)
	if err != nil {
		return err
	}
	n, err := repo.Create(ctx, title, content)
	return report(n.ID, err)
}

func editNote(ctx context.Context, cmd *cli.Command, repo *notes.Repository) error {
	id, err := firstArg(cmd, "ID")
	if err != nil {
		return err
	}
	cur, err := repo.Get(id)
	if err != nil {
		return err
	}
	title, content := cur.Title, cur.Content
	if cmd.IsSet("title") {
		title = cmd.String("title")
	}
	if cmd.IsSet("content") {
		if content, err = contentFlag(cmd); err != nil {
			return err
		}
	}
	_, err = repo.Update(ctx, id, title, content)
	return report("updated "+id, err)
}

func removeNote(ctx context.Context, cmd *cli.Command, repo *notes.Repository) error {
	id, err := firstArg(cmd, "ID")
	if err != nil {
		return err
	}
	return report("deleted "+id, repo.Delete(ctx, id))
}

func showNote(_ context.Context, cmd *cli.Command, repo *notes.Repository) error {
	id, err := firstArg(cmd, "ID")
	if err != nil {
		return err
	}
	n, err := repo.Get(id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s\n", mdcodec.Encode(n))
	return err
}

func listNotes(_ context.Context, _ *cli.Command, repo *notes.Repository) error {
	printList(repo.List())
	return nil
}

func searchNotes(_ context.Context, cmd *cli.Command, repo *notes.Repository) error {
	printList(repo.Search(cmd.Args().First()))
	return nil
}

func followLink(ctx context.Context, cmd *cli.Command, repo *notes.Repository) error {
	title, err := firstArg(cmd, "TITLE")
	if err != nil {
		return err
	}
	n, ok := repo.Follow(title)
	if ok {
		_, err = fmt.Fprintf(stdout, "%s\n", mdcodec.Encode(n))
		return err
	}
	if !cmd.IsSet("content") {
		return fmt.Errorf("no note titled %q; pass --content to create it", title)
	}
	content, err := contentFlag(cmd)
	if err != nil {
		return err
	}
	n, err = repo.SaveDraft(ctx, n.ID, content)
	return report(n.ID, err)
}

func exportNotes(_ context.Context, cmd *cli.Command, repo *notes.Repository) error {
	format := cmd.String("format")
	var write func(io.Writer, []models.Note) error
	switch format {
	case transfer.FormatJSON:
		write = transfer.ExportJSON
	case transfer.FormatMarkdown:
		write = transfer.ExportMarkdown
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	out := cmd.String("out")
	if out == "" {
		return write(stdout, repo.List())
	}
	if out == "." {
		out = transfer.Filename(format, now())
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := write(f, repo.List()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintln(stdout, out)
	return nil
}

func importNotes(ctx context.Context, cmd *cli.Command, repo *notes.Repository) error {
	path, err := firstArg(cmd, "FILE")
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer f.Close()

	imported, err := transfer.ImportJSON(f, now())
	if err != nil {
		return err
	}
	saved, err := repo.ReplaceAll(ctx, imported)
	return report(fmt.Sprintf("imported %d notes, saved %d", len(imported), saved), err)
}

func saveAll(ctx context.Context, _ *cli.Command, repo *notes.Repository) error {
	saved, err := repo.SaveAll(ctx)
	return report(fmt.Sprintf("saved %d notes to %s storage", saved, repo.Backend()), err)
}
