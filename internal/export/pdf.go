package export

import (
	"context"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
)

// pdfColumn widths in mm, landscape A4 (277mm usable). The columns mirror
// the CSV layout one to one, so both formats carry the same logical rows.
var pdfColumns = []struct {
	title string
	width float64
}{
	{"ID", 24},
	{"Kind", 13},
	{"Subject", 22},
	{"MP", 28},
	{"Minister", 28},
	{"Constituency", 22},
	{"Chiefdom", 17},
	{"District", 17},
	{"Ward", 15},
	{"Year", 10},
	{"Date", 17},
	{"Excerpt", 64},
}

// writePDF renders a paginated table. The creation and modification dates
// are pinned to the epoch so identical result sets produce identical bytes.
func (e *Exporter) writePDF(ctx context.Context, w io.Writer, questions []question.Question) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	epoch := time.Unix(0, 0).UTC()
	pdf.SetCreationDate(epoch)
	pdf.SetModificationDate(epoch)
	pdf.SetTitle("Parliamentary Questions Export", false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	header := func() {
		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetFillColor(230, 230, 230)
		for _, col := range pdfColumns {
			pdf.CellFormat(col.width, 7, col.title, "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 7)
	}

	pdf.AddPage()
	header()

	rowsOnPage := 0
	for i := range questions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rowsOnPage >= e.cfg.RowsPerPage {
			pdf.AddPage()
			header()
			rowsOnPage = 0
		}
		cells := csvRow(&questions[i])
		for c, col := range pdfColumns {
			pdf.CellFormat(col.width, 6, tr(cells[c]), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		rowsOnPage++
	}

	return pdf.Output(w)
}
