// Package export renders saved analyses as CSV or XLSX downloads.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mkovacs/salespanel/internal/storage"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a query-string value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename returns a timestamped download name.
func (f Format) Filename(now time.Time) string {
	return "saved-analyses-" + now.Format("2006-01-02") + "." + string(f)
}

var columns = []string{
	"Domain",
	"URL",
	"Title",
	"What They Do",
	"Target Customer",
	"Value Proposition",
	"Sales Angle",
	"Readiness Score",
	"Best Persona",
	"Persona Reason",
	"Outreach Persona",
	"Outreach Goal",
	"Outreach Angle",
	"Outreach Message",
	"Saved At",
	"Last Analyzed At",
}

func row(a storage.SavedAnalysis) []string {
	return []string{
		a.Domain,
		a.URL,
		a.Title,
		a.WhatTheyDo,
		a.TargetCustomer,
		a.ValueProposition,
		a.SalesAngle,
		strconv.Itoa(a.SalesReadinessScore),
		a.BestPersona,
		a.BestPersonaReason,
		a.OutreachPersona,
		a.OutreachGoal,
		a.OutreachAngle,
		a.OutreachMessage,
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.LastAnalyzedAt.UTC().Format(time.RFC3339),
	}
}

// Write encodes the records in the given format.
func Write(w io.Writer, f Format, records []storage.SavedAnalysis) error {
	if f == FormatXLSX {
		return writeXLSX(w, records)
	}
	return writeCSV(w, records)
}

func writeCSV(w io.Writer, records []storage.SavedAnalysis) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, a := range records {
		if err := cw.Write(row(a)); err != nil {
			return fmt.Errorf("writing row for %s: %w", a.Domain, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

const sheetName = "Saved Analyses"

func writeXLSX(w io.Writer, records []storage.SavedAnalysis) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, a := range records {
		cells := row(a)
		vals := make([]interface{}, len(cells))
		for j, c := range cells {
			vals[j] = c
		}
		// Score as a number so spreadsheet sorting works.
		vals[7] = a.SalesReadinessScore
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &vals); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
