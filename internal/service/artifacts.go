package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/storage"
	"golang.org/x/sync/errgroup"
)

// ArtifactKind names a downloadable job output.
type ArtifactKind string

const (
	ArtifactEnriched ArtifactKind = "enriched"
	ArtifactFiltered ArtifactKind = "filtered"
)

const csvContentType = "text/csv"

// ArtifactKey returns the object key of a job's artifact.
func ArtifactKey(jobID string, kind ArtifactKind) string {
	return fmt.Sprintf("jobs/%s/%s.csv", jobID, kind)
}

// EnrichmentColumns lists the columns appended to the source header for the
// given options.
func EnrichmentColumns(opts domain.EnrichmentOptions) []string {
	var cols []string
	if opts.IncludeGeolocation {
		cols = append(cols, "country", "city", "region", "latitude", "longitude")
	}
	if opts.IncludeDomain {
		cols = append(cols, "domain")
	}
	if opts.IncludeCompany {
		cols = append(cols, "company", "isp_filtered")
	}
	if opts.IncludeNetwork {
		cols = append(cols, "isp", "asn")
	}
	return append(cols, "enrichment_success", "enrichment_error")
}

// outcomeCells renders an outcome in EnrichmentColumns order. Groups missing
// from a failed outcome render as empty cells.
func outcomeCells(o domain.EnrichmentOutcome, opts domain.EnrichmentOptions) []string {
	var cells []string
	if opts.IncludeGeolocation {
		if g := o.Geolocation; g != nil {
			cells = append(cells, g.Country, g.City, g.Region, formatCoord(g.Latitude), formatCoord(g.Longitude))
		} else {
			cells = append(cells, "", "", "", "", "")
		}
	}
	if opts.IncludeDomain {
		if o.Domain != nil && o.Domain.Name != nil {
			cells = append(cells, *o.Domain.Name)
		} else {
			cells = append(cells, "")
		}
	}
	if opts.IncludeCompany {
		if c := o.Company; c != nil {
			cells = append(cells, c.Name, strconv.FormatBool(c.ISPFiltered))
		} else {
			cells = append(cells, "", "")
		}
	}
	if opts.IncludeNetwork {
		if n := o.Network; n != nil {
			cells = append(cells, n.ISP, n.ASN)
		} else {
			cells = append(cells, "", "")
		}
	}
	return append(cells, strconv.FormatBool(o.Success), o.ErrorMessage())
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// csvSpool is a CSV file written to local temp space before upload.
type csvSpool struct {
	file   *os.File
	writer *csv.Writer
	rows   int
}

func newCSVSpool(dir, pattern string, header []string) (*csvSpool, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create artifact file: %w", err)
	}
	s := &csvSpool{file: f, writer: csv.NewWriter(f)}
	if err := s.writer.Write(header); err != nil {
		s.discard()
		return nil, fmt.Errorf("write artifact header: %w", err)
	}
	return s, nil
}

func (s *csvSpool) write(record []string) error {
	s.rows++
	return s.writer.Write(record)
}

// upload flushes the spool and stores it under key.
func (s *csvSpool) upload(ctx context.Context, store storage.ObjectStorage, key string) error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush artifact: %w", err)
	}
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind artifact: %w", err)
	}
	return store.Upload(ctx, key, s.file, info.Size(), csvContentType)
}

func (s *csvSpool) discard() {
	name := s.file.Name()
	_ = s.file.Close()
	_ = os.Remove(name)
}

// artifactWriter streams the enriched and filtered outputs of one job. The
// filtered output drops rows classified as consumer ISPs.
type artifactWriter struct {
	opts     domain.EnrichmentOptions
	enriched *csvSpool
	filtered *csvSpool
}

func newArtifactWriter(dir string, sourceHeader []string, opts domain.EnrichmentOptions) (*artifactWriter, error) {
	header := append(append([]string(nil), sourceHeader...), EnrichmentColumns(opts)...)

	enriched, err := newCSVSpool(dir, "enriched-*.csv", header)
	if err != nil {
		return nil, err
	}
	filtered, err := newCSVSpool(dir, "filtered-*.csv", header)
	if err != nil {
		enriched.discard()
		return nil, err
	}
	return &artifactWriter{opts: opts, enriched: enriched, filtered: filtered}, nil
}

func (w *artifactWriter) Write(row domain.RowData, outcome domain.EnrichmentOutcome) error {
	record := append(row.Values(), outcomeCells(outcome, w.opts)...)
	if err := w.enriched.write(record); err != nil {
		return fmt.Errorf("write enriched row: %w", err)
	}
	if outcome.ConsumerISP {
		return nil
	}
	if err := w.filtered.write(record); err != nil {
		return fmt.Errorf("write filtered row: %w", err)
	}
	return nil
}

// Publish uploads both outputs and returns their keys.
func (w *artifactWriter) Publish(ctx context.Context, store storage.ObjectStorage, jobID string) (enrichedKey, filteredKey string, err error) {
	enrichedKey = ArtifactKey(jobID, ArtifactEnriched)
	filteredKey = ArtifactKey(jobID, ArtifactFiltered)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.enriched.upload(gctx, store, enrichedKey) })
	g.Go(func() error { return w.filtered.upload(gctx, store, filteredKey) })
	if err := g.Wait(); err != nil {
		return "", "", fmt.Errorf("upload artifacts: %w", err)
	}
	return enrichedKey, filteredKey, nil
}

// Close removes the local spool files.
func (w *artifactWriter) Close() {
	w.enriched.discard()
	w.filtered.discard()
}
