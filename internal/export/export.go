// Package export renders harvested companies as CSV, JSON or XLSX downloads.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tealeg/xlsx/v2"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Format names an export encoding.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// SheetName is the single worksheet in XLSX exports.
const SheetName = "Companies"

// ErrNoData is returned when there is nothing to export.
var ErrNoData = errors.New("no companies to export")

// Columns is the header row shared by CSV and XLSX exports.
var Columns = []string{
	"Company Name",
	"Company Type",
	"Domain",
	"City",
	"Phone",
	"Email",
	"Rating",
	"Review Count",
	"Trustpilot URL",
	"Description",
	"Address",
	"Website",
	"Status",
}

// ParseFormat accepts a case-insensitive format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Result is a rendered download.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Envelope is the JSON export document.
type Envelope struct {
	ExportDate     time.Time         `json:"exportDate"`
	TotalCompanies int               `json:"totalCompanies"`
	Companies      []crawler.Company `json:"companies"`
}

// Render encodes companies in format. now stamps JSON exports.
func Render(companies []crawler.Company, format Format, now time.Time) (Result, error) {
	if len(companies) == 0 {
		return Result{}, ErrNoData
	}
	switch format {
	case FormatCSV:
		data, err := renderCSV(companies)
		if err != nil {
			return Result{}, err
		}
		return Result{Data: data, Filename: "companies.csv", MimeType: "text/csv"}, nil
	case FormatJSON:
		data, err := json.MarshalIndent(Envelope{
			ExportDate:     now.UTC(),
			TotalCompanies: len(companies),
			Companies:      companies,
		}, "", "  ")
		if err != nil {
			return Result{}, fmt.Errorf("encode json export: %w", err)
		}
		return Result{Data: data, Filename: "companies.json", MimeType: "application/json"}, nil
	case FormatXLSX:
		data, err := renderXLSX(companies)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Data:     data,
			Filename: "companies.xlsx",
			MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}, nil
	default:
		return Result{}, fmt.Errorf("unsupported export format %q", format)
	}
}

func renderCSV(companies []crawler.Company) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range companies {
		if err := w.Write(row(c)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func renderXLSX(companies []crawler.Company) ([]byte, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SheetName)
	if err != nil {
		return nil, fmt.Errorf("add sheet: %w", err)
	}
	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}
	for _, c := range companies {
		r := sheet.AddRow()
		for i, value := range row(c) {
			cell := r.AddCell()
			switch {
			case i == 6 && c.Rating != nil:
				cell.SetFloat(*c.Rating)
			case i == 7 && c.ReviewCount != nil:
				cell.SetInt(*c.ReviewCount)
			default:
				cell.SetString(value)
			}
		}
	}
	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// row lays out one company in Columns order; unknown values are empty.
func row(c crawler.Company) []string {
	rating := ""
	if c.Rating != nil {
		rating = strconv.FormatFloat(*c.Rating, 'f', -1, 64)
	}
	reviews := ""
	if c.ReviewCount != nil {
		reviews = strconv.Itoa(*c.ReviewCount)
	}
	return []string{
		c.Name,
		c.Type,
		c.Domain,
		c.City,
		c.Phone,
		c.Email,
		rating,
		reviews,
		c.SourceURL,
		c.Description,
		c.Address,
		c.Website,
		string(c.Status),
	}
}
