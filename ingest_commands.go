package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"naturelens/collection"
	"naturelens/imagegen"
	"naturelens/pipeline"
)

type ingestOutcome struct {
	Input   string     `json:"input"`
	PhotoID string     `json:"photoId,omitempty"`
	Album   string     `json:"album,omitempty"`
	Photo   *photoView `json:"photo,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func newIngestCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "ingest <file>...",
		Short:       "Classify image files and add them to their species albums",
		Args:        cobra.MinimumNArgs(1),
		Annotations: modelsAnnotation(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.context(cmd)
			orch, err := a.orchestrator(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			outcomes := make([]ingestOutcome, 0, len(args))
			var errs []error
			for _, path := range args {
				if ctx.Err() != nil {
					errs = append(errs, ctx.Err())
					break
				}
				a.progressf(cmd, "%s\n", filepath.Base(path))

				data, err := os.ReadFile(path)
				if err != nil {
					errs = append(errs, err)
					outcomes = append(outcomes, ingestOutcome{Input: path, Error: err.Error()})
					continue
				}
				ref, err := orch.IngestUpload(ctx, data, uploadMIMEType(path))
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					outcomes = append(outcomes, ingestOutcome{Input: path, Error: err.Error()})
					continue
				}
				outcomes = append(outcomes, a.outcome(orch, path, ref))
			}

			if a.flags.jsonOutput {
				if err := writeJSON(cmd, outcomes); err != nil {
					return err
				}
			} else {
				printOutcomes(cmd, outcomes)
			}
			return errors.Join(errs...)
		},
	}
}

// photoExtensions covers phone formats missing from many system mime tables.
var photoExtensions = map[string]string{
	".heic": "image/heic",
	".heif": "image/heif",
	".avif": "image/avif",
}

// uploadMIMEType declares a file's type from its extension.
func uploadMIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := photoExtensions[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

func newGenerateCommand(a *app) *cobra.Command {
	var aspectFlag, sizeFlag string

	cmd := &cobra.Command{
		Use:         "generate <prompt>",
		Short:       "Generate a wildlife image from a prompt and classify it",
		Args:        cobra.MinimumNArgs(1),
		Annotations: modelsAnnotation(),
		RunE: func(cmd *cobra.Command, args []string) error {
			aspect, err := imagegen.ParseAspectRatio(aspectFlag)
			if err != nil {
				return err
			}
			size, err := imagegen.ParseSize(sizeFlag)
			if err != nil {
				return err
			}

			ctx := a.context(cmd)
			orch, err := a.orchestrator(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			prompt := strings.Join(args, " ")
			a.progressf(cmd, "generating %s %s image\n", aspect, size)
			ref, err := orch.IngestGenerated(ctx, prompt, aspect, size)
			if err != nil {
				return err
			}
			return a.reportOne(cmd, orch, prompt, ref)
		},
	}

	cmd.Flags().StringVar(&aspectFlag, "aspect", string(imagegen.Aspect16x9), "Aspect ratio: 1:1, 2:3, 3:2, 3:4, 4:3, 9:16, 16:9 or 21:9")
	cmd.Flags().StringVar(&sizeFlag, "size", string(imagegen.Size2K), "Image size: 1K, 2K or 4K")
	return cmd
}

func newEditCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "edit <photo-id> <instruction>",
		Short:       "Edit a stored photo and add the result as a new photo",
		Args:        cobra.MinimumNArgs(2),
		Annotations: modelsAnnotation(),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.context(cmd)
			orch, err := a.orchestrator(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			source, ok := orch.Store().Photo(args[0])
			if !ok {
				return fmt.Errorf("photo %q not found", args[0])
			}

			instruction := strings.Join(args[1:], " ")
			a.progressf(cmd, "editing %s (%s)\n", source.ID, source.Analysis.Species)
			ref, err := orch.IngestEdited(ctx, source, instruction)
			if err != nil {
				return err
			}
			return a.reportOne(cmd, orch, source.ID, ref)
		},
	}
}

func (a *app) outcome(orch *pipeline.Orchestrator, input string, ref pipeline.PhotoRef) ingestOutcome {
	out := ingestOutcome{Input: input, PhotoID: ref.PhotoID, Album: ref.SpeciesKey}
	if photo, ok := orch.Store().Photo(ref.PhotoID); ok {
		view := newPhotoView(photo)
		out.Photo = &view
	}
	return out
}

func (a *app) reportOne(cmd *cobra.Command, orch *pipeline.Orchestrator, input string, ref pipeline.PhotoRef) error {
	out := a.outcome(orch, input, ref)
	if a.flags.jsonOutput {
		return writeJSON(cmd, out)
	}
	printOutcomes(cmd, []ingestOutcome{out})
	return nil
}

func printOutcomes(cmd *cobra.Command, outcomes []ingestOutcome) {
	w := cmd.OutOrStdout()
	for _, o := range outcomes {
		if o.Error != "" {
			color.New(color.FgRed).Fprintf(w, "✗ %s: %s\n", o.Input, o.Error)
			continue
		}
		if o.Photo == nil {
			fmt.Fprintf(w, "✓ %s → %s\n", o.PhotoID, o.Album)
			continue
		}
		p := o.Photo
		color.New(color.FgGreen).Fprintf(w, "✓ %s", p.Species)
		if p.ScientificName != "" {
			color.New(color.Italic).Fprintf(w, " (%s)", p.ScientificName)
		}
		fmt.Fprintf(w, " %s, %.0f%% confident", p.Category, p.Confidence*100)
		if p.Verified {
			fmt.Fprint(w, ", verified")
		}
		fmt.Fprintln(w)
		if p.Caption != "" {
			fmt.Fprintf(w, "  %q\n", p.Caption)
		}
		color.New(color.FgHiBlack).Fprintf(w, "  photo %s in album %q\n", p.ID, o.Album)
	}
}

// progressf writes a progress line to stderr unless output is quiet or JSON.
func (a *app) progressf(cmd *cobra.Command, format string, args ...interface{}) {
	if a.flags.quiet || a.flags.jsonOutput {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), format, args...)
}

func describeAlbum(album collection.Album) string {
	if len(album.Photos) == 0 {
		return album.Name
	}
	newest := album.Photos[0]
	return fmt.Sprintf("%s, %s, newest %s", album.Name,
		pluralize(len(album.Photos), "photo", "photos"), humanize.Time(newest.CreatedAt()))
}
