package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"naturelens/collection"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// photoView is the JSON shape of a photo in command output. The image
// itself is left out; use `naturelens save` to extract it.
type photoView struct {
	ID             string    `json:"id" yaml:"id"`
	Species        string    `json:"species" yaml:"species"`
	ScientificName string    `json:"scientificName,omitempty" yaml:"scientific_name,omitempty"`
	Confidence     float64   `json:"confidence" yaml:"confidence"`
	Verified       bool      `json:"verified" yaml:"verified"`
	Category       string    `json:"category" yaml:"category"`
	Caption        string    `json:"caption,omitempty" yaml:"caption,omitempty"`
	Source         string    `json:"source" yaml:"source"`
	CreatedAt      time.Time `json:"createdAt" yaml:"created_at"`
}

func newPhotoView(p collection.Photo) photoView {
	return photoView{
		ID:             p.ID,
		Species:        p.Analysis.Species,
		ScientificName: p.Analysis.ScientificName,
		Confidence:     p.Analysis.Confidence,
		Verified:       p.Analysis.Verified(),
		Category:       p.Analysis.DisplayCategory(),
		Caption:        p.FunCaption,
		Source:         p.Source.String(),
		CreatedAt:      p.CreatedAt(),
	}
}

func photoRows(photos []collection.Photo) [][]string {
	rows := make([][]string, 0, len(photos))
	for _, p := range photos {
		rows = append(rows, []string{
			p.ID,
			p.Analysis.Species,
			formatConfidence(p.Analysis),
			p.Source.String(),
			humanize.Time(p.CreatedAt()),
			p.FunCaption,
		})
	}
	return rows
}

var photoHeaders = []string{"ID", "Species", "Confidence", "Source", "Added", "Caption"}
var photoAligns = []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}

func formatConfidence(a collection.AnalysisResult) string {
	s := fmt.Sprintf("%.0f%%", a.Confidence*100)
	if a.Verified() {
		s += " ✓"
	}
	return s
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

func jsonIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
