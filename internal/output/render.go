package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/torosent/limitprobe/internal/orchestrator"
)

// Format selects how a report is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Render writes r to w in the given format.
func Render(w io.Writer, format Format, r orchestrator.Report) error {
	switch format {
	case FormatJSON:
		return PrintJSONReport(w, r)
	case FormatYAML:
		return PrintYAMLReport(w, r)
	case FormatText, "":
		PrintReport(w, r)
		return nil
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// WriterRenderer renders every report to w.
func WriterRenderer(w io.Writer, format Format) orchestrator.Renderer {
	return orchestrator.RendererFunc(func(r orchestrator.Report) error {
		return Render(w, format, r)
	})
}

// FileRenderer writes the report to path. The file is replaced while an
// exclusive lock on path+".lock" is held, so concurrent runs sharing a
// report path never interleave their output.
func FileRenderer(path string, format Format) orchestrator.Renderer {
	return orchestrator.RendererFunc(func(r orchestrator.Report) error {
		return WriteReportFile(path, format, r)
	})
}

// WriteReportFile renders r into path under an exclusive file lock.
func WriteReportFile(path string, format Format, r orchestrator.Report) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open report file: %w", err)
	}
	buf := bufio.NewWriter(f)
	if err := Render(buf, format, r); err != nil {
		_ = f.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
