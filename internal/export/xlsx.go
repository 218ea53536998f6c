package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Pedidos"

// writeXLSX writes the header and rows as a single-sheet workbook.
func writeXLSX(w io.Writer, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	write := func(row int, values []string) error {
		for i, v := range values {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(xlsxSheet, cell, v); err != nil {
				return err
			}
		}
		return nil
	}

	if err := write(1, Header); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	for i, r := range rows {
		if err := write(i+2, r); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(xlsxSheet, "A", "A", 22)
	_ = f.SetColWidth(xlsxSheet, "E", "J", 24)
	_ = f.SetColWidth(xlsxSheet, "N", "N", 14)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
