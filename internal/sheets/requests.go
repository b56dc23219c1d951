package sheets

import (
	"fmt"

	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/livinlefevreloca/ghareport/internal/report"
)

const (
	valueFields        = "userEnteredValue"
	valueAndFormFields = "userEnteredValue,userEnteredFormat.numberFormat"
)

// buildRequests translates a batch into Sheets requests for the tab with
// the given id and grid. Row indexes in the API are 0-based and
// end-exclusive. The grid row count is tracked across ops so that truncation
// knows where the sheet ends.
func buildRequests(sheetID int64, grid sheetsapi.GridProperties, b report.Batch) ([]*sheetsapi.Request, error) {
	rows := grid.RowCount
	var requests []*sheetsapi.Request

	for i, op := range b.Ops {
		if op.Row < 1 {
			return nil, fmt.Errorf("op %d: invalid row %d", i, op.Row)
		}
		index := int64(op.Row - 1)

		switch op.Kind {
		case report.OpInsertRow:
			requests = append(requests, &sheetsapi.Request{
				InsertDimension: &sheetsapi.InsertDimensionRequest{
					Range: &sheetsapi.DimensionRange{
						SheetId:    sheetID,
						Dimension:  "ROWS",
						StartIndex: index,
						EndIndex:   index + 1,
					},
				},
			})
			rows++

		case report.OpWriteRow:
			fields := valueFields
			if op.Cells.HasFormat() {
				fields = valueAndFormFields
			}
			requests = append(requests, &sheetsapi.Request{
				UpdateCells: &sheetsapi.UpdateCellsRequest{
					Start: &sheetsapi.GridCoordinate{
						SheetId:  sheetID,
						RowIndex: index,
					},
					Rows:   []*sheetsapi.RowData{{Values: cellData(op.Cells)}},
					Fields: fields,
				},
			})
			if index >= rows {
				rows = index + 1
			}

		case report.OpTruncate:
			if index >= rows {
				continue
			}
			// The API refuses to delete every unfrozen row, so blank them
			// instead when nothing else would be left.
			if index <= grid.FrozenRowCount {
				requests = append(requests, &sheetsapi.Request{
					UpdateCells: &sheetsapi.UpdateCellsRequest{
						Range: &sheetsapi.GridRange{
							SheetId:       sheetID,
							StartRowIndex: index,
							EndRowIndex:   rows,
						},
						Fields: valueFields,
					},
				})
				continue
			}
			requests = append(requests, &sheetsapi.Request{
				DeleteDimension: &sheetsapi.DeleteDimensionRequest{
					Range: &sheetsapi.DimensionRange{
						SheetId:    sheetID,
						Dimension:  "ROWS",
						StartIndex: index,
						EndIndex:   rows,
					},
				},
			})
			rows = index

		default:
			return nil, fmt.Errorf("op %d: unknown kind %v", i, op.Kind)
		}
	}

	return requests, nil
}

func cellData(row report.Row) []*sheetsapi.CellData {
	out := make([]*sheetsapi.CellData, len(row))
	for i, c := range row {
		data := &sheetsapi.CellData{}
		switch c.Kind {
		case report.KindString:
			s := c.Text
			data.UserEnteredValue = &sheetsapi.ExtendedValue{StringValue: &s}
		case report.KindNumber:
			n := c.Number
			data.UserEnteredValue = &sheetsapi.ExtendedValue{NumberValue: &n}
		}
		if c.Format != nil {
			data.UserEnteredFormat = &sheetsapi.CellFormat{
				NumberFormat: &sheetsapi.NumberFormat{
					Type:    c.Format.Type,
					Pattern: c.Format.Pattern,
				},
			}
		}
		out[i] = data
	}
	return out
}
