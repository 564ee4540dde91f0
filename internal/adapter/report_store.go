package adapter

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"fmt"
	"html/template"
	"log/slog"
	"strconv"
	"strings"

	m "jstool.dev/pkg/jstool/internal/model"
)

//go:embed reports/coverage.html
var coverageHTMLTemplate string

var coverageHTML = template.Must(template.New("coverage").Funcs(template.FuncMap{
	"percent": func(rate float64) string { return strconv.FormatFloat(rate*100, 'f', 1, 64) + "%" },
}).Parse(coverageHTMLTemplate))

// ReportStore persists aggregated coverage.
type ReportStore interface {
	SaveReports(snapshot m.CoverageSnapshot) error
}

// CoverageReportStore writes a Cobertura XML report and an HTML report.
// An empty path disables that format.
type CoverageReportStore struct {
	fs       SourceFSAdapter
	xmlPath  string
	htmlPath string
}

// NewCoverageReportStore constructs a CoverageReportStore writing through fs.
func NewCoverageReportStore(fs SourceFSAdapter, xmlPath, htmlPath string) *CoverageReportStore {
	return &CoverageReportStore{fs: fs, xmlPath: xmlPath, htmlPath: htmlPath}
}

// SaveReports writes every configured report, overwriting existing files.
func (s *CoverageReportStore) SaveReports(snapshot m.CoverageSnapshot) error {
	if s.xmlPath != "" {
		content, err := GenerateXMLReport(snapshot)
		if err != nil {
			return err
		}

		if err := s.fs.WriteFile(s.xmlPath, content, 0o644); err != nil {
			return fmt.Errorf("failed to write XML coverage report %s: %w", s.xmlPath, err)
		}

		slog.Info("wrote XML coverage report", "path", s.xmlPath)
	}

	if s.htmlPath != "" {
		content, err := GenerateHTMLReport(snapshot)
		if err != nil {
			return err
		}

		if err := s.fs.WriteFile(s.htmlPath, content, 0o644); err != nil {
			return fmt.Errorf("failed to write HTML coverage report %s: %w", s.htmlPath, err)
		}

		slog.Info("wrote HTML coverage report", "path", s.htmlPath)
	}

	return nil
}

type coberturaReport struct {
	XMLName      xml.Name           `xml:"coverage"`
	LineRate     string             `xml:"line-rate,attr"`
	LinesCovered int                `xml:"lines-covered,attr"`
	LinesValid   int                `xml:"lines-valid,attr"`
	Version      string             `xml:"version,attr"`
	Sources      []string           `xml:"sources>source"`
	Packages     []coberturaPackage `xml:"packages>package"`
}

type coberturaPackage struct {
	Name     string           `xml:"name,attr"`
	LineRate string           `xml:"line-rate,attr"`
	Classes  []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Name     string          `xml:"name,attr"`
	Filename string          `xml:"filename,attr"`
	LineRate string          `xml:"line-rate,attr"`
	Methods  struct{}        `xml:"methods"`
	Lines    []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number int `xml:"number,attr"`
	Hits   int `xml:"hits,attr"`
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 4, 64)
}

// GenerateXMLReport renders snapshot as a Cobertura-style XML document.
func GenerateXMLReport(snapshot m.CoverageSnapshot) ([]byte, error) {
	pkg := coberturaPackage{Name: "javascript", LineRate: formatRate(snapshot.Rate())}

	for _, file := range snapshot.Files {
		rel := snapshot.RelPath(file.Path)
		class := coberturaClass{
			Name:     rel,
			Filename: rel,
			LineRate: formatRate(file.Lines.Rate()),
		}

		for _, num := range file.Lines.Lines() {
			hits := 0
			if file.Lines[num] {
				hits = 1
			}

			class.Lines = append(class.Lines, coberturaLine{Number: num, Hits: hits})
		}

		pkg.Classes = append(pkg.Classes, class)
	}

	report := coberturaReport{
		LineRate:     formatRate(snapshot.Rate()),
		LinesCovered: snapshot.Covered(),
		LinesValid:   snapshot.Total(),
		Version:      "jstool",
		Sources:      snapshot.RootDirs,
		Packages:     []coberturaPackage{pkg},
	}

	body, err := xml.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode XML coverage report: %w", err)
	}

	return append([]byte(xml.Header), append(body, '\n')...), nil
}

type htmlFileRow struct {
	Path    string
	Rate    float64
	Covered int
	Total   int
	Missed  string
}

// GenerateHTMLReport renders snapshot as a standalone HTML page.
func GenerateHTMLReport(snapshot m.CoverageSnapshot) ([]byte, error) {
	rows := make([]htmlFileRow, 0, len(snapshot.Files))

	for _, file := range snapshot.Files {
		rows = append(rows, htmlFileRow{
			Path:    snapshot.RelPath(file.Path),
			Rate:    file.Lines.Rate(),
			Covered: file.Lines.Covered(),
			Total:   file.Lines.Total(),
			Missed:  missedRanges(file.Lines),
		})
	}

	data := struct {
		Rate    float64
		Covered int
		Total   int
		Files   []htmlFileRow
	}{
		Rate:    snapshot.Rate(),
		Covered: snapshot.Covered(),
		Total:   snapshot.Total(),
		Files:   rows,
	}

	var buf bytes.Buffer
	if err := coverageHTML.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML coverage report: %w", err)
	}

	return buf.Bytes(), nil
}

// missedRanges formats uncovered lines as "2, 5-7". Runs are broken only by
// covered lines, so non-executable gaps do not split a range.
func missedRanges(lines m.LineCoverage) string {
	var (
		parts      []string
		open       bool
		start, end int
	)

	flush := func() {
		if !open {
			return
		}

		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}

		open = false
	}

	for _, num := range lines.Lines() {
		if lines[num] {
			flush()
			continue
		}

		if !open {
			open = true
			start = num
		}

		end = num
	}

	flush()

	return strings.Join(parts, ", ")
}
