package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const (
	snapshotFile = "snapshot.json"
	tradesFile   = "trades.jsonl"
)

// Archiver writes one folder per trading day holding the closing snapshot
// and that day's trades:
//
//	archive/<key>/2025-01-31/snapshot.json
//	archive/<key>/2025-01-31/trades.jsonl
//
// The folder with the greatest day is the recovery point when the primary
// snapshot store is empty.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDay uploads the encoded snapshot and the day's trades. Trades are
// written first so a snapshot object always has its trade file beside it.
func (a *Archiver) ArchiveDay(ctx context.Context, key, day string, snapshot []byte, trades []domain.Trade) error {
	buf, err := marshalJSONL(trades)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s trades marshal: %w", day, err)
	}

	tradesPath := dayPath(key, day, tradesFile)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, tradesPath, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, tradesPath, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s trades upload: %w", day, err)
	}

	snapPath := dayPath(key, day, snapshotFile)
	if err := a.writer.Put(ctx, snapPath, bytes.NewReader(snapshot), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive %s snapshot upload: %w", day, err)
	}

	a.logger.InfoContext(ctx, "day archived",
		slog.String("day", day),
		slog.String("path", snapPath),
		slog.Int("trades", len(trades)),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.day", map[string]any{
			"key":    key,
			"day":    day,
			"path":   snapPath,
			"trades": len(trades),
		}); err != nil {
			return fmt.Errorf("s3blob: archive %s audit log: %w", day, err)
		}
	}
	return nil
}

// LatestSnapshot returns the newest archived snapshot for key and its day.
// It returns domain.ErrNotFound when no day has been archived.
func (a *Archiver) LatestSnapshot(ctx context.Context, key string) ([]byte, string, error) {
	days, err := a.Days(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if len(days) == 0 {
		return nil, "", fmt.Errorf("s3blob: latest snapshot %s: %w", key, domain.ErrNotFound)
	}
	day := days[len(days)-1]
	data, err := a.read(ctx, dayPath(key, day, snapshotFile))
	if err != nil {
		return nil, "", err
	}
	return data, day, nil
}

// Days lists archived trading days for key, oldest first.
func (a *Archiver) Days(ctx context.Context, key string) ([]string, error) {
	infos, err := a.reader.List(ctx, "archive/"+key+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list days %s: %w", key, err)
	}
	var days []string
	for _, info := range infos {
		rest, ok := strings.CutPrefix(info.Path, "archive/"+key+"/")
		if !ok {
			continue
		}
		day, file, ok := strings.Cut(rest, "/")
		if ok && file == snapshotFile {
			days = append(days, day)
		}
	}
	// ISO dates sort lexically.
	sort.Strings(days)
	return days, nil
}

// Trades reads back the archived trades for one day.
func (a *Archiver) Trades(ctx context.Context, key, day string) ([]domain.Trade, error) {
	data, err := a.read(ctx, dayPath(key, day, tradesFile))
	if err != nil {
		return nil, err
	}
	var out []domain.Trade
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var t domain.Trade
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, fmt.Errorf("s3blob: decode trade line %d: %w", len(out)+1, err)
		}
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: scan trades %s: %w", day, err)
	}
	return out, nil
}

func (a *Archiver) read(ctx context.Context, path string) ([]byte, error) {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return data, nil
}

func dayPath(key, day, file string) string {
	return fmt.Sprintf("archive/%s/%s/%s", key, day, file)
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
