package watcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lid-inspector/internal/domain"
)

type resultFile struct {
	CorrelationID string `json:"correlation_id"`
	File          string `json:"file"`
	Verdict       string `json:"verdict"`
	Reason        string `json:"reason"`
	Confidence    *int   `json:"confidence,omitempty"`
	Strictness    int    `json:"strictness"`
	NoBrand       bool   `json:"no_brand"`
	Model         string `json:"model,omitempty"`
	Error         string `json:"error,omitempty"`
	InspectedAt   string `json:"inspected_at"`
}

func encodeResult(in *domain.Inspection) ([]byte, error) {
	rf := resultFile{
		CorrelationID: in.CorrelationID,
		File:          in.FileName,
		Verdict:       string(in.Verdict),
		Reason:        in.Reason,
		Strictness:    in.Strictness,
		NoBrand:       in.NoBrand,
		Model:         in.Model,
		Error:         in.ErrorMessage,
		InspectedAt:   in.InspectedAt.Format(time.RFC3339),
	}
	if in.Confidence >= 0 {
		c := in.Confidence
		rf.Confidence = &c
	}
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return append(data, '\n'), nil
}

// writeResult stores the verdict for in as <dir>/<file name>.json and returns the path.
func writeResult(dir string, in *domain.Inspection) (string, error) {
	data, err := encodeResult(in)
	if err != nil {
		return "", err
	}

	// keyed on the full name so 1.jpg and 1.png keep separate results
	path := filepath.Join(dir, in.FileName+".json")
	tmp, err := os.CreateTemp(dir, "."+in.FileName+"-*.json")
	if err != nil {
		return "", fmt.Errorf("create result file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write result file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close result file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish result file: %w", err)
	}
	return path, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}
