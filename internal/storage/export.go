package storage

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

type exportData struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Model     string    `json:"model"`
	Algorithm string    `json:"algorithm"`
	AbsTol    float64   `json:"abs_tol"`
	RelTol    float64   `json:"rel_tol"`
	ElapsedMs float64   `json:"elapsed_ms"`
	Loss      *float64  `json:"loss,omitempty"`
	DU0       []float64 `json:"du0"`
	DP        []float64 `json:"dp"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// ExportJSON writes one run as indented JSON.
func ExportJSON(w io.Writer, run *Run) error {
	data := exportData{
		ID:        run.ID,
		CreatedAt: run.CreatedAt,
		Model:     run.Model,
		Algorithm: run.Algorithm,
		AbsTol:    run.AbsTol,
		RelTol:    run.RelTol,
		ElapsedMs: float64(run.Elapsed) / float64(time.Millisecond),
		DU0:       run.DU0,
		DP:        run.DP,
		Warnings:  run.Warnings,
	}
	if run.LossKnown {
		loss := run.Loss
		data.Loss = &loss
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// ExportCSV writes the gradient components as rows of
// (kind, index, value).
func ExportCSV(w io.Writer, run *Run) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"kind", "index", "value"}); err != nil {
		return err
	}
	for i, v := range run.DU0 {
		if err := cw.Write([]string{"du0", strconv.Itoa(i), strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
			return err
		}
	}
	for j, v := range run.DP {
		if err := cw.Write([]string{"dp", strconv.Itoa(j), strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
