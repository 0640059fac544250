// Package ticket renders a kitchen ticket for one board order.
package ticket

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"cashier-board/internal/order"

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"
)

// Roll paper, 80mm wide.
const (
	pageWidth  = 80.0
	pageHeight = 200.0
	margin     = 4.0
	fontFamily = "DejaVu"
)

// DejaVu covers Latin and Arabic, so customer names print as typed.
var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	regularFont []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	boldFont []byte
)

type Options struct {
	Title    string
	Location *time.Location
}

func Render(o order.Order, opts Options) (*bytes.Buffer, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: pageWidth, Ht: pageHeight},
	})
	pdf.AddUTF8FontFromBytes(fontFamily, "", regularFont)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", boldFont)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()

	if opts.Title != "" {
		pdf.SetFont(fontFamily, "B", 13)
		field(pdf, "", opts.Title, 7, "C")
	}
	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 9, fmt.Sprintf("#%d", o.ID), "", 1, "C", false, 0, "")
	pdf.SetFont(fontFamily, "", 9)
	pdf.CellFormat(0, 5, o.CreatedAt.In(loc).Format("2006-01-02 15:04"), "", 1, "C", false, 0, "")
	if o.Finished() {
		pdf.CellFormat(0, 5, "FINISHED", "", 1, "C", false, 0, "")
	}

	pdf.Ln(2)
	if o.Name != "" {
		field(pdf, "Name:", o.Name, 5, "L")
	}
	if o.Phone != "" {
		field(pdf, "Phone:", o.Phone, 5, "L")
	}
	if o.Location != nil && strings.TrimSpace(*o.Location) != "" {
		field(pdf, "Location:", *o.Location, 4, "L")
	}

	pdf.Ln(2)
	pdf.SetFont(fontFamily, "B", 10)
	pdf.CellFormat(0, 6, "Items", "B", 1, "L", false, 0, "")
	pdf.SetFont(fontFamily, "", 10)
	if len(o.Items) == 0 {
		pdf.CellFormat(0, 5, "-", "", 1, "L", false, 0, "")
	}
	for _, item := range o.Items {
		field(pdf, fmt.Sprintf("%dx", item.Quantity), item.Meal.Name, 5, "L")
	}

	if o.Note != nil && strings.TrimSpace(*o.Note) != "" {
		pdf.Ln(2)
		pdf.SetFont(fontFamily, "B", 10)
		pdf.CellFormat(0, 6, "Note", "B", 1, "L", false, 0, "")
		pdf.SetFont(fontFamily, "", 9)
		field(pdf, "", *o.Note, 4, "L")
	}

	pdf.Ln(2)
	pdf.SetFont(fontFamily, "B", 11)
	pdf.CellFormat(0, 6, "Total: "+FormatPrice(o.TotalPrice), "T", 1, "R", false, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// field prints an optional label followed by a wrapped value. Right-to-left
// values are shaped, reordered per line and aligned right.
func field(pdf *gofpdf.Fpdf, label, value string, h float64, align string) {
	width := pageWidth - 2*margin
	labelW := 0.0
	if label != "" {
		labelW = pdf.GetStringWidth(label) + 2
	}

	value = shapeArabic(printable(value))
	rtl := hasRTL(value)
	if rtl && align == "L" {
		align = "R"
	}
	lines := pdf.SplitText(value, width-labelW)
	if len(lines) == 0 {
		lines = []string{""}
	}
	for i, line := range lines {
		pdf.SetX(margin)
		if labelW > 0 {
			text := ""
			if i == 0 {
				text = label
			}
			pdf.CellFormat(labelW, h, text, "", 0, "L", false, 0, "")
		}
		if rtl {
			line = visualOrder(line)
		}
		pdf.CellFormat(width-labelW, h, line, "", 1, align, false, 0, "")
	}
}

// FormatPrice groups thousands and prints cents only when there are any:
// 12500 -> "12,500", 12.5 -> "12.50".
func FormatPrice(d decimal.Decimal) string {
	d = d.Round(2)
	neg := d.IsNegative()
	d = d.Abs()

	whole := d.Truncate(0)
	frac := d.Sub(whole)
	digits := whole.String()

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if !frac.IsZero() {
		out += strings.TrimPrefix(frac.StringFixed(2), "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

// Location resolves an IANA zone name, falling back to UTC when it is unknown.
func Location(tz string) *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		return time.UTC
	}
	return loc
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func Filename(o order.Order) string {
	name := strings.Trim(unsafeFilename.ReplaceAllString(o.Name, "_"), "_")
	if name == "" {
		return fmt.Sprintf("ticket_%d.pdf", o.ID)
	}
	return fmt.Sprintf("ticket_%d_%s.pdf", o.ID, name)
}
