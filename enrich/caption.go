package enrich

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"naturelens/logging"
)

// CaptionPrompt is formatted with the species name.
const CaptionPrompt = "Write a very short, witty, or cute caption (max 10 words) for a photo of a %s."

// Captioner writes a short playful caption for a species.
type Captioner struct {
	model  TextModel
	logger *logging.Logger
	opts   options
}

// NewCaptioner creates a Captioner backed by model.
func NewCaptioner(model TextModel, logger *logging.Logger, opts ...Option) *Captioner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Captioner{
		model:  model,
		logger: logger.Named("caption"),
		opts:   applyOptions(opts),
	}
}

// Caption never fails. An empty answer gives "A lovely <species>", a failed
// request gives "Look, a <species>!".
func (c *Captioner) Caption(ctx context.Context, species string) string {
	species = cleanSpecies(species)

	text, err := c.model.Complete(ctx, fmt.Sprintf(CaptionPrompt, species))
	if err != nil {
		cerr := &CaptionError{Species: species, Err: err}
		c.logger.Warn("caption failed, using fallback",
			zap.String("model", c.model.Name()),
			zap.String("species", species),
			zap.Error(cerr))
		c.opts.onFailure(cerr)
		return FailedCaption(species)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return EmptyCaption(species)
	}
	return text
}

// EmptyCaption is used when the model answers with nothing.
func EmptyCaption(species string) string {
	return "A lovely " + species
}

// FailedCaption is used when the caption request fails.
func FailedCaption(species string) string {
	return "Look, a " + species + "!"
}
