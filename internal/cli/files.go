package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"arrangement-grading-service/internal/domain"
	"gopkg.in/yaml.v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// readArrangement loads an arrangement from a JSON or YAML file and validates it.
func readArrangement(path string) (domain.QuestionArrangement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.QuestionArrangement{}, err
	}
	if isYAML(path) {
		return domain.ParseArrangementYAML(data)
	}
	return domain.ParseArrangement(data)
}

// readList decodes a list of outcomes or attempts from a JSON or YAML file.
func readList[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if isYAML(path) {
		err = yaml.Unmarshal(data, &out)
	} else {
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
