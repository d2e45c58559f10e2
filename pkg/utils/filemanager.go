// =============================================================================
// Payment Import - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for the import command:
//   - Directory management
//   - Input archival (moving an imported workbook out of the way)
//   - Report file naming
//   - JSON import reports
//
// ARCHIVAL STRATEGY:
//   - An input file is moved to input_archive only when its batch auto-closes
//     (every attempted row saved)
//   - Files with failures stay where they are so the operator can re-run them
//   - A report is written to the output directory for every run
//
// =============================================================================

package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ginjaninja78/payment-import/internal/commit"
	"github.com/ginjaninja78/payment-import/internal/types"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the import command.
type FileManager struct {
	// OutputDir is where import reports are written.
	OutputDir string

	// InputArchiveDir receives fully imported input files.
	InputArchiveDir string

	// UseTimestampSubdirs creates date-based subdirectories in the archive.
	// Example: input_archive/2024/01/15/payments.xlsx
	UseTimestampSubdirs bool

	now func() time.Time
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(outputDir, inputArchiveDir string) *FileManager {
	return &FileManager{
		OutputDir:       outputDir,
		InputArchiveDir: inputArchiveDir,
		now:             time.Now,
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates all required directories if they don't exist.
//
// RETURNS:
//   - An error if any directory cannot be created.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.OutputDir, fm.InputArchiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an input file to the archive directory. An existing
// archive entry with the same name is never overwritten; the new file gets a
// short unique suffix instead.
//
// PARAMETERS:
//   - filePath: The path to the file to archive.
//
// RETURNS:
//   - The path to the archived file.
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	archivePath := fm.getArchivePath(fm.InputArchiveDir, filePath)

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	if _, err := os.Stat(archivePath); err == nil {
		ext := filepath.Ext(archivePath)
		archivePath = strings.TrimSuffix(archivePath, ext) + "_" + uuid.NewString()[:8] + ext
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// Rename fails across devices; fall back to copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return archivePath, nil
}

// getArchivePath constructs the archive path for a file.
func (fm *FileManager) getArchivePath(archiveDir, filePath string) string {
	fileName := filepath.Base(filePath)

	if fm.UseTimestampSubdirs {
		now := fm.now()
		return filepath.Join(
			archiveDir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
			fileName,
		)
	}

	return filepath.Join(archiveDir, fileName)
}

// =============================================================================
// REPORT FILE NAMING
// =============================================================================

// GenerateReportFileName generates a unique report file name.
//
// PARAMETERS:
//   - format: The format string for the file name.
//             Placeholders:
//               {uuid}      - A random UUID
//               {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//               {date}      - Current date (YYYYMMDD)
//               {original}  - Input file name without extension
//   - params: Extra placeholder values.
//
// RETURNS:
//   - The generated file name, always ending in .json.
//
// EXAMPLE:
//   format: "{original}_{timestamp}.json"
//   params: {"original": "march"}
//   output: "march_20240115_143022.json"
func GenerateReportFileName(format string, params map[string]string) string {
	now := time.Now()

	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	if !strings.HasSuffix(strings.ToLower(result), ".json") {
		result += ".json"
	}
	return result
}

// =============================================================================
// IMPORT REPORT
// =============================================================================

// ImportReport is the JSON record of one import run.
type ImportReport struct {
	ReportID    string    `json:"reportId"`
	SourceFile  string    `json:"sourceFile"`
	SessionID   string    `json:"sessionId"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	DryRun      bool      `json:"dryRun"`
	ArchivePath string    `json:"archivePath,omitempty"`

	Counts types.Counts        `json:"counts"`
	Batch  *commit.BatchResult `json:"batch,omitempty"`
	Review []types.ReviewItem  `json:"review,omitempty"`
	Rows   []types.ImportRow   `json:"rows"`

	// Error is set when the run stopped early, e.g. a rejected batch.
	Error string `json:"error,omitempty"`
}

// WriteReport writes a report as indented JSON into outputDir.
//
// PARAMETERS:
//   - report: The import report. ReportID is assigned when empty.
//   - outputDir: The directory to write the report file.
//
// RETURNS:
//   - The path to the report file.
//   - An error if writing fails.
func WriteReport(report ImportReport, outputDir string) (string, error) {
	if report.ReportID == "" {
		report.ReportID = uuid.NewString()
	}

	original := strings.TrimSuffix(filepath.Base(report.SourceFile), filepath.Ext(report.SourceFile))
	name := GenerateReportFileName("import_{original}_{timestamp}_{short}", map[string]string{
		"original": original,
		"short":    report.ReportID[:8],
	})
	reportPath := filepath.Join(outputDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(reportPath, append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return reportPath, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
