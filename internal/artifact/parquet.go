package artifact

import (
	"bytes"
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/insightloop/insightloop/internal/workflow"
)

// resultCell is one value of the exported result set in a narrow layout.
// Result columns vary per query, so a fixed wide schema cannot hold them;
// each row/column pair becomes one record instead.
type resultCell struct {
	RowIndex int32  `parquet:"row_index"`
	Column   string `parquet:"column,dict"`
	Value    string `parquet:"value"`
}

// Exporter writes a run's result set to the object store as Parquet.
// It satisfies the orchestrator's result exporter hook.
type Exporter struct {
	Store ObjectStore
}

func NewExporter(store ObjectStore) *Exporter {
	return &Exporter{Store: store}
}

func (e *Exporter) Export(ctx context.Context, s *workflow.State) (string, error) {
	if s.ExecResult == nil {
		return "", fmt.Errorf("no result to export")
	}
	key, err := BuildResultKey(s.TenantID, s.ID)
	if err != nil {
		return "", err
	}

	encoded, err := encodeResult(s.ExecResult)
	if err != nil {
		return "", fmt.Errorf("encode result for %s: %w", s.ID, err)
	}

	_, err = e.Store.Put(ctx, key, bytes.NewReader(encoded), int64(len(encoded)), PutOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	if err != nil {
		return "", fmt.Errorf("store result for %s: %w", s.ID, err)
	}
	return key, nil
}

func encodeResult(result *workflow.ExecutionResult) ([]byte, error) {
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[resultCell](&buf)

	cells := make([]resultCell, 0, len(result.Rows)*len(result.Columns))
	for rowIndex, row := range result.Rows {
		for colIndex, column := range result.Columns {
			var value string
			if colIndex < len(row) && row[colIndex] != nil {
				value = fmt.Sprint(row[colIndex])
			}
			cells = append(cells, resultCell{
				RowIndex: int32(rowIndex),
				Column:   column,
				Value:    value,
			})
		}
	}
	if len(cells) > 0 {
		if _, err := writer.Write(cells); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
