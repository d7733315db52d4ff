package history

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"lukechampine.com/blake3"
)

// Export describes a written history file.
type Export struct {
	Path   string
	Rows   int
	Digest string
}

type parquetRow struct {
	TradeID      string `parquet:"name=trade_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Converter    string `parquet:"name=converter, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source       string `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Target       string `parquet:"name=target, type=BYTE_ARRAY, convertedtype=UTF8"`
	Trader       string `parquet:"name=trader, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountIn     string `parquet:"name=amount_in, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountOut    string `parquet:"name=amount_out, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fee          string `parquet:"name=fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	NetworkFee   string `parquet:"name=network_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	AffiliateFee string `parquet:"name=affiliate_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt    int64  `parquet:"name=created_at, type=INT64"`
}

// ExportParquet writes the conversions recorded in [from, to) to path. Zero
// bounds are open.
func (s *Store) ExportParquet(ctx context.Context, path string, from, to time.Time) (*Export, error) {
	rows, err := s.window(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if err := writeParquet(path, rows); err != nil {
		return nil, err
	}
	digest, err := fileDigest(path)
	if err != nil {
		return nil, err
	}
	s.logger.Info("history: export written", "path", path, "rows", len(rows), "digest", digest)
	return &Export{Path: path, Rows: len(rows), Digest: digest}, nil
}

func writeParquet(path string, rows []ConversionRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("history: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("history: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range rows {
		row := &parquetRow{
			TradeID:      rec.TradeID,
			Converter:    rec.Converter,
			Source:       rec.Source,
			Target:       rec.Target,
			Trader:       rec.Trader,
			AmountIn:     rec.AmountIn,
			AmountOut:    rec.AmountOut,
			Fee:          rec.Fee,
			NetworkFee:   rec.NetworkFee,
			AffiliateFee: rec.AffiliateFee,
			CreatedAt:    rec.CreatedAt.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("history: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("history: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("history: close parquet file: %w", err)
	}
	return nil
}

func fileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("history: open export: %w", err)
	}
	defer file.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("history: digest export: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
