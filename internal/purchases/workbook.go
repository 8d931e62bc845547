package purchases

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const cogsSheet = "COGS"

var cogsHeader = []string{
	"Date",
	"PO #",
	"Vendor",
	"Product Name",
	"Product Type",
	"Quantity",
	"Unit",
	"Unit Cost",
	"Line Total",
}

var cogsColumnWidths = []float64{12, 14, 24, 32, 16, 10, 8, 12, 14}

// WorkbookFilename names the export for the report period.
func WorkbookFilename(report Report) string {
	return "cogs-report-" + report.Period + ".xlsx"
}

// WriteWorkbook renders the report as an XLSX workbook with a trailing TOTAL row.
func WriteWorkbook(w io.Writer, report Report) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(cogsSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("create money style: %w", err)
	}

	header := make([]any, len(cogsHeader))
	for i, title := range cogsHeader {
		header[i] = title
	}
	if err := writeRow(f, 1, header); err != nil {
		return err
	}
	lastHeaderCell, err := excelize.CoordinatesToCellName(len(cogsHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(cogsSheet, "A1", lastHeaderCell, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, width := range cogsColumnWidths {
		column, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(cogsSheet, column, column, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	row := 2
	for _, line := range report.Lines {
		values := []any{
			line.PurchaseDate,
			line.PONumber,
			line.VendorName,
			line.ProductName,
			line.ProductType,
			line.Quantity,
			line.UnitOfMeasure,
			optionalMoney(line.UnitCost),
			optionalMoney(line.TotalCost),
		}
		if err := writeRow(f, row, values); err != nil {
			return err
		}
		row++
	}
	totalRow := []any{"", "", "", "", "", "", "", "TOTAL", report.TotalCost}
	if err := writeRow(f, row, totalRow); err != nil {
		return err
	}

	firstMoney, err := excelize.CoordinatesToCellName(8, 2)
	if err != nil {
		return err
	}
	lastMoney, err := excelize.CoordinatesToCellName(9, row)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(cogsSheet, firstMoney, lastMoney, moneyStyle); err != nil {
		return fmt.Errorf("style money cells: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(cogsSheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func optionalMoney(value *float64) any {
	if value == nil {
		return ""
	}
	return *value
}
