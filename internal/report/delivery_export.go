// Package report 投递历史报表导出
package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// DeliveryExportHeader 投递历史导出表头
var DeliveryExportHeader = []string{
	"Job ID",
	"Alert ID",
	"Route ID",
	"Transport",
	"Status",
	"Attempt No",
	"Succeeded",
	"Latency (ms)",
	"Error",
	"Attempted At",
}

// GenerateDeliveryExport 生成投递历史 Excel 文件
// 每个任务的每次尝试占一行；没有尝试记录的任务只输出任务行
func GenerateDeliveryExport(jobs []models.DeliveryJob, attemptsByJob map[string][]models.DeliveryAttempt) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := "Delivery History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range DeliveryExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	row := 2
	for i := range jobs {
		job := &jobs[i]
		attempts := attemptsByJob[job.JobID]

		if len(attempts) == 0 {
			if err := writeRow(f, sheetName, row, []interface{}{
				job.JobID, job.AlertID, job.RouteID, job.Transport, job.Status,
				"", "", "", "", "",
			}); err != nil {
				f.Close()
				return nil, err
			}
			row++
			continue
		}

		for j := range attempts {
			a := &attempts[j]
			errMsg := ""
			if a.Error != nil {
				errMsg = *a.Error
			}
			if err := writeRow(f, sheetName, row, []interface{}{
				job.JobID, job.AlertID, job.RouteID, job.Transport, job.Status,
				a.AttemptNo, a.Succeeded, a.LatencyMS, errMsg,
				a.AttemptedAt.Format("2006-01-02 15:04:05"),
			}); err != nil {
				f.Close()
				return nil, err
			}
			row++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}

	return buf.Bytes(), nil
}

// writeRow 写入一行单元格
func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}
