package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harunnryd/wikichat/internal/model/contract"

	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (supported: table, json, yaml)", s)
	}
}

type toolView struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
}

func formatTools(defs []contract.ToolDef, format OutputFormat) (string, error) {
	switch format {
	case OutputFormatTable:
		return formatToolTable(toolRows(defs)), nil
	}

	views := make([]toolView, 0, len(defs))
	for _, d := range defs {
		views = append(views, toolView{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case OutputFormatJSON:
		data, err = json.MarshalIndent(views, "", "  ")
	case OutputFormatYAML:
		data, err = yaml.Marshal(views)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
