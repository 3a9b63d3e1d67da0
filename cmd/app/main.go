package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/zettel/internal"
	pkgconfig "github.com/starford/zettel/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOrDefault(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if dir := cmd.String("dir"); dir != "" {
		cfg.Directory.Path = dir
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "zettel",
		Usage:   "Personal Zettelkasten with #tags, [[links]] and Markdown file storage",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Directory of Markdown notes (overrides directory.path)",
				Sources: cli.EnvVars("ZETTEL_DIR"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the REST API and event stream (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:      "new",
				Usage:     "Create a note",
				ArgsUsage: "TITLE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "content", Usage: "Note text; read from stdin when '-'"},
				},
				Action: withSession(newNote),
			},
			{
				Name:      "edit",
				Usage:     "Change a note's title or content",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "New title"},
					&cli.StringFlag{Name: "content", Usage: "New text; read from stdin when '-'"},
				},
				Action: withSession(editNote),
			},
			{
				Name:      "rm",
				Usage:     "Delete a note",
				ArgsUsage: "ID",
				Action:    withSession(removeNote),
			},
			{
				Name:      "show",
				Usage:     "Print a note as Markdown",
				ArgsUsage: "ID",
				Action:    withSession(showNote),
			},
			{
				Name:   "ls",
				Usage:  "List notes",
				Action: withSession(listNotes),
			},
			{
				Name:      "search",
				Usage:     "Find notes by title, content or tag",
				ArgsUsage: "TERM",
				Action:    withSession(searchNotes),
			},
			{
				Name:      "follow",
				Usage:     "Open the note a [[link]] points to, creating it with --content when missing",
				ArgsUsage: "TITLE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "content", Usage: "Text for a new note when the link does not resolve"},
				},
				Action: withSession(followLink),
			},
			{
				Name:  "export",
				Usage: "Write every note to stdout or a file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "json or markdown"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file; '.' picks the default download name"},
				},
				Action: withSession(exportNotes),
			},
			{
				Name:      "import",
				Usage:     "Replace every note with a JSON export",
				ArgsUsage: "FILE",
				Action:    withSession(importNotes),
			},
			{
				Name:   "save-all",
				Usage:  "Write every note to the active storage",
				Action: withSession(saveAll),
			},
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
