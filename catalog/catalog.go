// Package catalog maintains the process-wide mapping from public signal
// names to the reader and in-file name that serve them.
//
// Signal names are not unique across files. When a newly opened file
// exposes a name that is already taken, the catalog appends the first
// free integer suffix: base, base_1, base_2, and so on. An assignment is
// permanent for the catalog's lifetime; suffixes are never reclaimed or
// renumbered when files close.
package catalog

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/plotune/pltxd/pltx"
)

// Entry resolves one public signal name.
type Entry struct {
	Reader *pltx.Reader
	Signal string // in-file name
}

// FileInfo summarizes one opened file.
type FileInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Headers []string `json:"headers"` // public names, index order
}

// ReaderSummary describes one open reader for the info endpoints.
type ReaderSummary struct {
	ID           string   `json:"id"`
	SignalsCount int      `json:"signals_count"`
	Headers      []string `json:"headers"` // original in-file names
}

// Catalog is the process-wide signal registry. Initialized empty,
// mutated only by file-open events, never rolled back.
type Catalog struct {
	mu      sync.RWMutex
	signals map[string]Entry
	files   []*fileRecord
	nextID  uint64
	logger  *slog.Logger

	// ReaderOptions is applied to every pltx.Open call.
	readerOpts []func(o *pltx.Options)
}

type fileRecord struct {
	info    FileInfo
	reader  *pltx.Reader
	headers []string // original in-file names
}

// Option configures a Catalog.
type Option func(c *Catalog)

// WithLogger sets the catalog's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) { c.logger = logger }
}

// WithReaderOptions forwards options to every reader the catalog opens.
func WithReaderOptions(optFns ...func(o *pltx.Options)) Option {
	return func(c *Catalog) { c.readerOpts = optFns }
}

// New creates an empty Catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		signals: make(map[string]Entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenFile opens a PLTX file and registers all of its signals under
// collision-free public names. The returned FileInfo lists the public
// names in the file's index order.
func (c *Catalog) OpenFile(path string) (FileInfo, error) {
	reader, err := pltx.Open(path, c.readerOpts...)
	if err != nil {
		return FileInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	rec := &fileRecord{
		reader: reader,
		info: FileInfo{
			ID:   fmt.Sprintf("%x", c.nextID),
			Name: reader.Name(),
			Path: path,
		},
	}

	for _, meta := range reader.ListSignals() {
		public := c.claimName(meta.Name)
		c.signals[public] = Entry{Reader: reader, Signal: meta.Name}
		rec.info.Headers = append(rec.info.Headers, public)
		rec.headers = append(rec.headers, meta.Name)
		if public != meta.Name {
			c.logger.Info("signal name collision resolved",
				"original", meta.Name, "public", public, "file", rec.info.Name)
		}
	}
	c.files = append(c.files, rec)

	c.logger.Info("pltx file registered",
		"id", rec.info.ID,
		"path", path,
		"signals", len(rec.info.Headers),
		"size", humanize.Bytes(uint64(reader.Size())),
	)
	return rec.info, nil
}

// claimName finds the first unused public name for base. Caller holds
// the write lock.
func (c *Catalog) claimName(base string) string {
	if _, taken := c.signals[base]; !taken {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if _, taken := c.signals[candidate]; !taken {
			return candidate
		}
	}
}

// Resolve looks up a public signal name. Lookup is exact-match only;
// there is no prefix fallback.
func (c *Catalog) Resolve(public string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.signals[public]
	return e, ok
}

// Readers summarizes every open reader.
func (c *Catalog) Readers() []ReaderSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ReaderSummary, 0, len(c.files))
	for _, rec := range c.files {
		out = append(out, ReaderSummary{
			ID:           rec.info.ID,
			SignalsCount: len(rec.headers),
			Headers:      append([]string(nil), rec.headers...),
		})
	}
	return out
}

// ReaderHeaders returns the original in-file signal names of one reader.
func (c *Catalog) ReaderHeaders(id string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.files {
		if rec.info.ID == id {
			return append([]string(nil), rec.headers...), true
		}
	}
	return nil, false
}
