package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-activity-api/internal/dto"
	"github.com/noah-isme/sma-activity-api/internal/models"
	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
	"github.com/noah-isme/sma-activity-api/pkg/export"
)

type programProgressReader interface {
	ListByProgramAndYear(ctx context.Context, programID, academicYear string) ([]models.StudentProgressRow, error)
}

type programFinder interface {
	FindProgram(ctx context.Context, id string) (*models.Program, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
}

type pdfRenderer interface {
	Render(data export.Dataset, title, subtitle string) ([]byte, error)
	ContentType() string
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Enabled  bool
	PDFTitle string
}

// ExportFile is a rendered report ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders program progress reports.
type ExportService struct {
	snapshots programProgressReader
	programs  programFinder
	targets   programTargetReader
	csv       csvRenderer
	pdf       pdfRenderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
	year      func() string
}

// NewExportService constructs an ExportService. currentYear supplies the
// default academic year.
func NewExportService(snapshots programProgressReader, programs programFinder, targets programTargetReader, currentYear func() string, cfg ExportConfig, validate *validator.Validate, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.PDFTitle == "" {
		cfg.PDFTitle = "Activity hours progress"
	}
	return &ExportService{
		snapshots: snapshots,
		programs:  programs,
		targets:   targets,
		csv:       export.NewCSVExporter(','),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		year:      currentYear,
	}
}

var progressExportHeaders = []string{"student", "nis", "level_1", "level_2", "level_3", "level_4", "level_5", "sustainability", "completion_pct", "recalculated_at"}

// ProgramProgress renders every stored snapshot of a program for one academic
// year, with the program target as a footer row when one exists.
func (s *ExportService) ProgramProgress(ctx context.Context, programID string, query dto.ProgressExportQuery) (*ExportFile, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrFeatureDisabled, "progress export is disabled")
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query")
	}
	year := query.AcademicYear
	if year == "" && s.year != nil {
		year = s.year()
	}
	if _, err := models.ParseAcademicYear(year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year")
	}
	format := strings.ToLower(query.Format)
	if format == "" {
		format = "csv"
	}

	program, err := s.programs.FindProgram(ctx, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}

	rows, err := s.snapshots.ListByProgramAndYear(ctx, programID, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program progress")
	}
	target, err := s.targets.FindByProgramAndYear(ctx, programID, year)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program target")
		}
		target = nil
	}

	dataset := buildProgressDataset(rows, target)
	filename := fmt.Sprintf("progress_%s_%s.%s", slug(program.Code), year, format)

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case "pdf":
		subtitle := fmt.Sprintf("%s - academic year %s", program.Name, year)
		payload, err = s.pdf.Render(dataset, s.cfg.PDFTitle, subtitle)
		contentType = s.pdf.ContentType()
	default:
		payload, err = s.csv.Render(dataset)
		contentType = s.csv.ContentType()
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("progress export rendered",
		zap.String("program_id", programID),
		zap.String("academic_year", year),
		zap.String("format", format),
		zap.Int("students", len(rows)),
	)
	return &ExportFile{Filename: filename, ContentType: contentType, Data: payload}, nil
}

func buildProgressDataset(rows []models.StudentProgressRow, target *models.ProgramTarget) export.Dataset {
	dataset := export.Dataset{Headers: progressExportHeaders}
	for _, row := range rows {
		totals := row.Totals()
		record := map[string]string{
			"student":         row.StudentName,
			"nis":             row.StudentNIS,
			"sustainability":  formatHours(totals.Sustainability),
			"recalculated_at": row.RecalculatedAt.UTC().Format("2006-01-02 15:04"),
			"completion_pct":  "",
		}
		for level := 1; level <= models.MaxLevel; level++ {
			record[fmt.Sprintf("level_%d", level)] = formatHours(totals.Level(level))
		}
		if target != nil {
			record["completion_pct"] = formatHours(CompareToTarget(totals, target).OverallPercentage)
		}
		dataset.Rows = append(dataset.Rows, record)
	}
	if target != nil {
		goals := target.Totals()
		footer := map[string]string{"student": "Target", "sustainability": formatHours(goals.Sustainability)}
		for level := 1; level <= models.MaxLevel; level++ {
			footer[fmt.Sprintf("level_%d", level)] = formatHours(goals.Level(level))
		}
		dataset.Footer = append(dataset.Footer, footer)
	}
	return dataset
}

func formatHours(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func slug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "program"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, value)
}
