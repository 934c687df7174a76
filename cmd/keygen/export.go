package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"coursesmith/internal/store"
)

const exportSheet = "Licenses"

var exportHeader = []string{
	"License Key", "Email", "Tier", "Expires", "Banned",
	"Bound Devices", "Max Devices", "Created",
}

func cmdExport(ctx context.Context, st store.Store, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "licenses.xlsx", "output workbook path")
	fs.Parse(args)

	records, err := st.List(ctx)
	if err != nil {
		return err
	}

	if err := writeWorkbook(*out, records); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	fmt.Printf("wrote %d licenses to %s\n", len(records), *out)
	return nil
}

func writeWorkbook(path string, records []store.LicenseRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}

	for col, title := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, title); err != nil {
			return err
		}
	}

	for i, rec := range records {
		row := []interface{}{
			rec.LicenseKey,
			rec.Email,
			rec.Tier,
			formatExpiry(rec.ValidUntil),
			rec.IsBanned,
			strings.Join(rec.BoundDevices, ", "),
			rec.MaxDevices,
			rec.CreatedAt.Format(time.RFC3339),
		}
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(exportSheet, cell, value); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(exportSheet, "A", "B", 28); err != nil {
		return err
	}
	return f.SaveAs(path)
}
