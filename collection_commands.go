package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"naturelens/collection"
	"naturelens/vision"
)

// albumView is an album without image payloads.
type albumView struct {
	Key      string      `json:"key" yaml:"key"`
	Name     string      `json:"name" yaml:"name"`
	Photos   []photoView `json:"photos" yaml:"photos"`
	Summary  string      `json:"summary,omitempty" yaml:"summary,omitempty"`
	Source   string      `json:"sourceUrl,omitempty" yaml:"source_url,omitempty"`
	Enriched bool        `json:"enriched" yaml:"enriched"`
}

func newAlbumView(a collection.Album) albumView {
	photos := make([]photoView, 0, len(a.Photos))
	for _, p := range a.Photos {
		photos = append(photos, newPhotoView(p))
	}
	return albumView{
		Key:      a.ID,
		Name:     a.Name,
		Photos:   photos,
		Summary:  a.WikiSummary,
		Source:   a.WikiURL,
		Enriched: a.Enriched(),
	}
}

// catalog is what `export` writes.
type catalog struct {
	Albums       []albumView `json:"albums" yaml:"albums"`
	RecentPhotos []photoView `json:"recentPhotos" yaml:"recent_photos"`
}

func newCatalog(c *collection.Collection) catalog {
	out := catalog{
		Albums:       make([]albumView, 0, len(c.Order)),
		RecentPhotos: make([]photoView, 0, len(c.RecentPhotos)),
	}
	for _, a := range c.AlbumList() {
		out.Albums = append(out.Albums, newAlbumView(a))
	}
	for _, p := range c.RecentPhotos {
		out.RecentPhotos = append(out.RecentPhotos, newPhotoView(p))
	}
	return out
}

func newAlbumsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "albums",
		Short: "List species albums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(a.context(cmd))
			if err != nil {
				return err
			}
			albums := store.Albums()

			if a.flags.jsonOutput {
				views := make([]albumView, 0, len(albums))
				for _, album := range albums {
					views = append(views, newAlbumView(album))
				}
				return writeJSON(cmd, views)
			}

			if len(albums) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No albums yet. Add photos with `naturelens ingest`.")
				return nil
			}
			rows := make([][]string, 0, len(albums))
			for _, album := range albums {
				updated := ""
				if len(album.Photos) > 0 {
					updated = humanize.Time(album.Photos[0].CreatedAt())
				}
				rows = append(rows, []string{
					album.ID,
					album.Name,
					strconv.Itoa(len(album.Photos)),
					yesNo(album.Enriched()),
					updated,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Key", "Name", "Photos", "Enriched", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newOpenCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "open <species>",
		Short:       "Open an album, fetching its summary the first time",
		Args:        cobra.MinimumNArgs(1),
		Annotations: modelsAnnotation(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.context(cmd)
			orch, err := a.orchestrator(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			album, err := orch.OpenAlbum(ctx, strings.Join(args, " "))
			if err != nil {
				if errors.Is(err, collection.ErrAlbumNotFound) {
					return fmt.Errorf("no album for %q; see `naturelens albums`", strings.Join(args, " "))
				}
				return err
			}

			if a.flags.jsonOutput {
				return writeJSON(cmd, newAlbumView(album))
			}
			w := cmd.OutOrStdout()
			color.New(color.Bold).Fprintln(w, album.Name)
			color.New(color.FgHiBlack).Fprintln(w, describeAlbum(album))
			fmt.Fprintln(w)
			fmt.Fprintln(w, album.WikiSummary)
			if album.WikiURL != "" {
				color.New(color.FgBlue, color.Underline).Fprintln(w, album.WikiURL)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, renderTable(photoHeaders, photoRows(album.Photos), photoAligns))
			return nil
		},
	}
}

func newRecentCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "List the most recently added photos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(a.context(cmd))
			if err != nil {
				return err
			}
			recent := store.Recent()

			if a.flags.jsonOutput {
				views := make([]photoView, 0, len(recent))
				for _, p := range recent {
					views = append(views, newPhotoView(p))
				}
				return writeJSON(cmd, views)
			}
			if len(recent) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No photos yet.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(photoHeaders, photoRows(recent), photoAligns))
			return nil
		},
	}
}

func newSaveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <photo-id> <path>",
		Short: "Write a stored photo's image to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(a.context(cmd))
			if err != nil {
				return err
			}
			photo, ok := store.Photo(args[0])
			if !ok {
				return fmt.Errorf("photo %q not found", args[0])
			}
			data, mimeType, err := vision.DecodeDataURI(photo.URL)
			if err != nil {
				return fmt.Errorf("photo %s: %w", photo.ID, err)
			}
			if err := os.WriteFile(args[1], data, 0600); err != nil {
				return err
			}
			a.progressf(cmd, "wrote %s (%s, %s)\n", args[1], mimeType, humanize.Bytes(uint64(len(data))))
			return nil
		},
	}
}

func newExportCommand(a *app) *cobra.Command {
	var format, output string
	var full bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the collection catalog",
		Long: "Export albums and recent photos without image payloads. " +
			"With --full, write the stored collection blob itself, images included, as JSON.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (use json or yaml)", format)
			}
			if full && format != "json" {
				return errors.New("--full requires --format json")
			}

			store, err := a.openStore(a.context(cmd))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return exportCollection(w, store.Snapshot(), format, full)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&full, "full", false, "Include image payloads (json only)")
	return cmd
}

func exportCollection(w io.Writer, c *collection.Collection, format string, full bool) error {
	if full {
		data, err := collection.Encode(c)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}

	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newCatalog(c)); err != nil {
			return err
		}
		return enc.Close()
	}
	data, err := jsonIndent(newCatalog(c))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
