package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Export formats accepted by `results export --format`.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Export writes results to w in the named format.
func Export(w io.Writer, format string, results []*FitResult) error {
	switch format {
	case FormatJSON:
		return ExportJSON(w, results)
	case FormatCSV:
		return ExportCSV(w, results)
	default:
		return fmt.Errorf("unknown export format %q (want json or csv)", format)
	}
}

// ExportJSON writes results as an indented JSON array.
func ExportJSON(w io.Writer, results []*FitResult) error {
	if results == nil {
		results = []*FitResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// exportColumns is the CSV export header, matching the fit_results table.
var exportColumns = []string{
	"run_id", "input_file", "targetid",
	"vrad", "vrad_err", "teff", "logg", "feh", "alpha", "vsini", "chisq", "sn",
	"success", "error_message", "duration_seconds", "created_at",
}

// ExportCSV writes results in the fit_results column layout.
func ExportCSV(w io.Writer, results []*FitResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(exportColumns); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.RunID,
			r.InputFile,
			r.TargetID,
			formatFloat(r.Vrad),
			formatFloat(r.VradErr),
			formatFloat(r.Teff),
			formatFloat(r.Logg),
			formatFloat(r.Feh),
			formatFloat(r.Alpha),
			formatFloat(r.Vsini),
			formatFloat(r.Chisq),
			formatFloat(r.SN),
			strconv.FormatBool(r.Success),
			r.ErrorMessage,
			formatFloat(r.DurationSecs),
			r.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
