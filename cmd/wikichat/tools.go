package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/wikichat/internal/config"
	"github.com/harunnryd/wikichat/internal/model/contract"
	"github.com/harunnryd/wikichat/internal/tool"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools advertised by the MCP tool server",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		format, err := ParseOutputFormat(output)
		if err != nil {
			return err
		}

		connector, err := tool.NewMCPConnector(cfg.Tool)
		if err != nil {
			return err
		}

		session, err := connector.Connect(cmd.Context())
		if err != nil {
			return err
		}
		defer session.Close()

		defs, err := session.ListTools(cmd.Context())
		if err != nil {
			return err
		}

		out, err := formatTools(defs, format)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func toolRows(defs []contract.ToolDef) []toolRow {
	rows := make([]toolRow, 0, len(defs))
	for _, d := range defs {
		rows = append(rows, toolRow{Name: d.Name, Description: d.Description, Params: schemaParams(d.InputSchema)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// schemaParams lists property names, required ones marked with '*'.
func schemaParams(schema map[string]interface{}) string {
	props, _ := schema["properties"].(map[string]interface{})
	if len(props) == 0 {
		return "-"
	}

	required := map[string]bool{}
	if list, ok := schema["required"].([]interface{}); ok {
		for _, item := range list {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		if required[name] {
			name += "*"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().String("tool.command", config.DefaultToolCommand, "command line (or http URL) of the MCP tool server")
	toolsCmd.Flags().StringP("output", "o", string(OutputFormatTable), "output format (table, json, yaml)")
}
