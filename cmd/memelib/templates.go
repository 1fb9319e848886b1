package main

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vbonduro/memelib/internal/app"
	"github.com/vbonduro/memelib/internal/service"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage meme templates",
	}
	cmd.AddCommand(newTemplatesListCmd(), newTemplatesDeleteCmd(), newTemplatesSeedCmd())
	return cmd
}

func newTemplatesListCmd() *cobra.Command {
	var (
		search string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				templates, total, err := a.Service.ListTemplates(ctx, search, limit, offset)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tKEYWORDS\tCREATED\tURL")
				for _, t := range templates {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
						t.ID, t.Name, strings.Join(t.Keywords, ","), t.CreatedAt.Format(time.RFC3339), t.URL)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d templates\n", len(templates), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive filter on name and keywords")
	cmd.Flags().IntVar(&limit, "limit", service.DefaultListLimit, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of templates to skip")
	return cmd
}

func newTemplatesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a template and its associated image by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid template id %q", args[0])
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				deleted, err := a.Service.DeleteTemplate(ctx, id)
				if err != nil {
					return err
				}
				if !deleted {
					fmt.Fprintf(cmd.ErrOrStderr(), "Template %d not found.\n", id)
					return errReported
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Template %d deleted.\n", id)
				return nil
			})
		},
	}
}

// Seed data for load testing the list endpoint.
var (
	seedKeywordPool = []string{
		"reaction", "funny", "classic", "trending", "animal",
		"movie", "tv", "sport", "politics", "wholesome",
		"dark", "surreal", "vintage", "relatable", "cringe",
		"epic", "fail", "win", "dank", "based",
	}
	seedNames = []string{
		"Distracted Boyfriend", "Drake Approves", "This Is Fine", "Surprised Pikachu",
		"Change My Mind", "Two Buttons", "Galaxy Brain", "Expanding Brain",
		"Buff Doge", "Woman Yelling at Cat", "Bernie Sanders", "Gru's Plan",
		"Panik Kalm", "Always Has Been", "Stonks", "Uno Reverse",
		"Hide the Pain Harold", "Leonardo DiCaprio", "The Rock Driving", "Evil Kermit",
	}
)

// seedTemplate returns the name and keywords of the i-th seeded template,
// counting from 1. Each gets between two and four keywords.
func seedTemplate(i int) (string, []string) {
	name := fmt.Sprintf("%s #%d", seedNames[(i-1)%len(seedNames)], i)
	keywords := make([]string, 0, 4)
	for j := range 2 + i%3 {
		keywords = append(keywords, seedKeywordPool[(i+j)%len(seedKeywordPool)])
	}
	return name, keywords
}

// seedStemPrefix marks blobs written by the seeder so cleanup can find them.
const seedStemPrefix = "stress_"

func seedStem() string {
	return seedStemPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newTemplatesSeedCmd() *cobra.Command {
	var (
		count   int
		image   string
		cleanup bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert many templates sharing one image, for load testing",
		Long: `seed inserts --count templates that all carry a copy of --image.
With --cleanup it removes every previously seeded template and its image.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cleanup {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					removed, err := removeSeeded(ctx, a.Service)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stress templates and associated files.\n", removed)
					return nil
				})
			}

			if count < 1 {
				return fmt.Errorf("--count must be positive")
			}
			data, err := os.ReadFile(image)
			if err != nil {
				return fmt.Errorf("failed to read seed image: %w", err)
			}
			contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(image)))
			if contentType == "" {
				contentType = http.DetectContentType(data)
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				svc := a.NewService(service.WithFilenameGenerator(seedStem))
				for i := 1; i <= count; i++ {
					name, keywords := seedTemplate(i)
					if _, err := svc.CreateTemplate(ctx, name, keywords, contentType, bytes.NewReader(data)); err != nil {
						return fmt.Errorf("seed template %d: %w", i, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d stress templates.\n", count)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 1000, "number of templates to insert")
	cmd.Flags().StringVar(&image, "image", "", "image file shared by every seeded template")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove previously seeded templates instead of inserting")
	cmd.MarkFlagsOneRequired("image", "cleanup")
	cmd.MarkFlagsMutuallyExclusive("image", "cleanup")
	return cmd
}

// removeSeeded deletes every template whose blob was written by the seeder.
// IDs are collected first so deletes do not shift the pages being read.
func removeSeeded(ctx context.Context, svc *service.TemplateService) (int, error) {
	var ids []int64
	for offset := 0; ; offset += service.MaxListLimit {
		page, total, err := svc.ListTemplates(ctx, "", service.MaxListLimit, offset)
		if err != nil {
			return 0, err
		}
		for _, t := range page {
			if strings.HasPrefix(t.Filename, seedStemPrefix) {
				ids = append(ids, t.ID)
			}
		}
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	removed := 0
	for _, id := range ids {
		deleted, err := svc.DeleteTemplate(ctx, id)
		if err != nil {
			return removed, fmt.Errorf("remove template %d: %w", id, err)
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}
