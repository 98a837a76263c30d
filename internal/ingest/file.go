package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/normalize"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
)

// ReadRecords parses JSON-lines raw records from r. Blank lines are
// skipped; a malformed line yields a rejection, not an error.
func ReadRecords(r io.Reader) ([]question.RawRecord, []normalize.Rejection, error) {
	var records []question.RawRecord
	var rejections []normalize.Rejection

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec question.RawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			rejections = append(rejections, normalize.Rejection{
				Reason: normalize.ReasonMalformedPayload,
				Detail: fmt.Sprintf("line %d: %v", lineNo, err),
			})
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading records: %w", err)
	}
	return records, rejections, nil
}

// IngestFile reads a JSON-lines file and runs its records through the
// pipeline in batches of cfg.BatchSize.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening records file: %w", err)
	}
	defer f.Close()

	records, malformed, err := ReadRecords(f)
	if err != nil {
		return nil, err
	}
	total := &Report{
		Quarantined: len(malformed),
		Rejections:  malformed,
	}
	for _, rej := range malformed {
		rej := rej
		p.recordQuarantine(ctx, &rej)
	}

	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(records)
	}
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		report, err := p.IngestBatch(ctx, records[start:end])
		total.Ingested += report.Ingested
		total.Quarantined += report.Quarantined
		total.Rejections = append(total.Rejections, report.Rejections...)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
