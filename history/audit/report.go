package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type reportRow struct {
	ReportID      string `parquet:"name=report_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EpochID       int64  `parquet:"name=epoch_id, type=INT64"`
	Tranche       string `parquet:"name=tranche, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledShares string `parquet:"name=settled_shares, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledAmount string `parquet:"name=settled_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	SharePrice    string `parquet:"name=share_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fulfilled     bool   `parquet:"name=fulfilled, type=BOOLEAN"`
	Anomalous     bool   `parquet:"name=anomalous, type=BOOLEAN"`
}

func writeReport(path string, reportID uuid.UUID, rows []*EpochRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create report: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(reportRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &reportRow{
			ReportID:      reportID.String(),
			EpochID:       int64(row.EpochID),
			Tranche:       row.Tranche,
			SettledShares: row.SettledShares.String(),
			SettledAmount: row.SettledAmount.String(),
			SharePrice:    row.LastPrice.String(),
			Fulfilled:     row.Fulfilled,
			Anomalous:     row.Anomalous,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close report: %w", err)
	}
	return nil
}

func writeAnomalies(path string, anomalies []Anomaly) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create anomaly csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write([]string{"type", "epoch_id", "tranche", "details"}); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, a := range anomalies {
		epochField := ""
		if a.EpochID != nil {
			epochField = strconv.FormatUint(*a.EpochID, 10)
		}
		if err := w.Write([]string{a.Type, epochField, a.Tranche, a.Details}); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}
