package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	monitoring "geotech-monitor/internal/monitoring/domain"
	"geotech-monitor/internal/observability/metrics"
)

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.readings == nil {
		http.Error(w, "readings store not configured", http.StatusServiceUnavailable)
		return
	}
	format := strings.TrimPrefix(r.URL.Path, "/api/v1/exports/readings.")
	if format != "csv" && format != "xlsx" && format != "pdf" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	node, from, to, ok := h.rangeFromQuery(w, r)
	if !ok {
		return
	}

	started := time.Now()
	list, err := h.readings.ListByNodeRange(r.Context(), node.ID, from, to)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var data []byte
	var contentType string
	switch format {
	case "csv":
		data, err = BuildReadingsCSV(node, list)
		contentType = "text/csv"
	case "xlsx":
		data, err = BuildReadingsXLSX(node, list)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, err = BuildReadingsPDF(node, list)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(started))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "readings_"+node.ID+"."+format))
	_, _ = w.Write(data)
}

// channelColumns returns the sorted union of channel labels present in the
// readings so every export format shares one column order.
func channelColumns(readings []monitoring.Reading) []string {
	seen := map[string]bool{}
	for _, reading := range readings {
		for _, cv := range reading.Channels {
			seen[cv.Channel] = true
		}
	}
	columns := make([]string, 0, len(seen))
	for channel := range seen {
		columns = append(columns, channel)
	}
	sort.Strings(columns)
	return columns
}

// BuildReadingsCSV renders readings as CSV with one row per timestamp.
func BuildReadingsCSV(node monitoring.Node, readings []monitoring.Reading) ([]byte, error) {
	columns := channelColumns(readings)

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	header := append([]string{"node_id", "timestamp"}, columns...)
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, reading := range readings {
		row := make([]string, 0, len(header))
		row = append(row, node.ID, reading.Timestamp.UTC().Format(time.RFC3339))
		for _, channel := range columns {
			value, ok := reading.Value(channel)
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(value, 'f', -1, 64))
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReadingsXLSX renders readings as a single-sheet workbook.
func BuildReadingsXLSX(node monitoring.Node, readings []monitoring.Reading) ([]byte, error) {
	columns := channelColumns(readings)

	f := excelize.NewFile()
	sheet := "readings"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Node")
	_ = f.SetCellValue(sheet, "B1", node.DisplayName())
	_ = f.SetCellValue(sheet, "A2", "Instrument")
	_ = f.SetCellValue(sheet, "B2", string(node.Instrument))

	headerRow := 4
	_ = f.SetCellValue(sheet, cell(0, headerRow), "timestamp")
	for i, channel := range columns {
		_ = f.SetCellValue(sheet, cell(i+1, headerRow), channel)
	}
	for i, reading := range readings {
		row := headerRow + 1 + i
		_ = f.SetCellValue(sheet, cell(0, row), reading.Timestamp.UTC().Format(time.RFC3339))
		for j, channel := range columns {
			if value, ok := reading.Value(channel); ok {
				_ = f.SetCellValue(sheet, cell(j+1, row), value)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReadingsPDF renders readings as a simple tabular PDF.
func BuildReadingsPDF(node monitoring.Node, readings []monitoring.Reading) ([]byte, error) {
	columns := channelColumns(readings)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Instrument Readings")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Node: %s", node.DisplayName()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Instrument: %s", node.Instrument))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(55, 6, "Timestamp", "1", 0, "C", false, 0, "")
	for _, channel := range columns {
		pdf.CellFormat(35, 6, channel, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, reading := range readings {
		pdf.CellFormat(55, 6, reading.Timestamp.UTC().Format(time.RFC3339), "1", 0, "C", false, 0, "")
		for _, channel := range columns {
			text := ""
			if value, ok := reading.Value(channel); ok {
				text = fmt.Sprintf("%.4f", value)
			}
			pdf.CellFormat(35, 6, text, "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}
