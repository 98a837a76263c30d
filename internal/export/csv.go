package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
)

// csvHeader is the fixed column layout. The header row is written even for
// an empty result set.
var csvHeader = []string{
	"id", "kind", "subject", "mp", "minister", "constituency", "chiefdom",
	"district", "ward", "year", "date", "excerpt",
}

func csvRow(q *question.Question) []string {
	date := ""
	if !q.Date.IsZero() {
		date = q.Date.Format("2006-01-02")
	}
	return []string{
		q.ID,
		string(q.Label.Kind),
		q.Label.Subject,
		q.MP,
		q.Minister,
		q.Constituency,
		q.Chiefdom,
		q.District,
		q.Ward,
		strconv.Itoa(q.Year),
		date,
		q.Excerpt(excerptRunes),
	}
}

func (e *Exporter) writeCSV(ctx context.Context, w io.Writer, questions []question.Question) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := range questions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cw.Write(csvRow(&questions[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
