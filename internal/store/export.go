package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// ExportFormat is the file shape ExportGraphData writes, mirroring
// graphdb/export.py's "json"/"csv" choice.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

// ExportToJSON runs query against s and writes the result rows to w as a
// JSON array, grounded on graphdb/export.py's export_to_json.
func ExportToJSON(ctx context.Context, s Store, w io.Writer, query string, params map[string]interface{}) error {
	rows, err := s.Execute(ctx, query, params, false)
	if err != nil {
		return fmt.Errorf("export to json: %w", err)
	}
	return json.NewEncoder(w).Encode(rows)
}

// ExportToCSV runs query against s and writes the result rows to w as
// CSV, using the first row's keys as the header (graphdb/export.py's
// export_to_csv). An empty result writes nothing, not even a header.
func ExportToCSV(ctx context.Context, s Store, w io.Writer, query string, params map[string]interface{}) error {
	rows, err := s.Execute(ctx, query, params, false)
	if err != nil {
		return fmt.Errorf("export to csv: %w", err)
	}

	cw := csv.NewWriter(w)
	defer cw.Flush()
	if len(rows) == 0 {
		return nil
	}

	headers := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		headers = append(headers, k)
	}
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(headers))
		for i, h := range headers {
			record[i] = fmt.Sprintf("%v", row[h])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// ExportGraphData writes every node and every relationship in the graph
// to w in format, one document per call: nodes first, then
// relationships. It is the Go analogue of graphdb/export.py's
// export_graph_data, collapsed from two output files into two JSON
// arrays (or two CSV sections) on the same stream since callers here
// receive a single HTTP response body rather than a directory.
func ExportGraphData(ctx context.Context, s Store, w io.Writer, format ExportFormat) error {
	switch format {
	case ExportFormatCSV:
		if err := ExportToCSV(ctx, s, w, "MATCH (n) RETURN n", nil); err != nil {
			return err
		}
		fmt.Fprintln(w)
		return ExportToCSV(ctx, s, w, "MATCH ()-[r]->() RETURN r", nil)
	case ExportFormatJSON, "":
		nodes, err := s.Execute(ctx, "MATCH (n) RETURN n", nil, false)
		if err != nil {
			return fmt.Errorf("export nodes: %w", err)
		}
		rels, err := s.Execute(ctx, "MATCH ()-[r]->() RETURN r", nil, false)
		if err != nil {
			return fmt.Errorf("export relationships: %w", err)
		}
		return json.NewEncoder(w).Encode(map[string]interface{}{"nodes": nodes, "relationships": rels})
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}
