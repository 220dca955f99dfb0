package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/jackc/pgx/v5"
)

// ErrUnprocessable marks content that is recognized but can never be
// imported, such as an irrecoverably truncated document. Records failing
// this way are skipped rather than retried.
var ErrUnprocessable = errors.New("content is permanently unprocessable")

// SchemaMismatchError reports a document that parses but carries structure
// the mapper cannot place. It is not auto-retryable: the same bytes will
// mismatch again.
type SchemaMismatchError struct {
	FileType string
	Detail   string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s document: %s", e.FileType, e.Detail)
}

// IsSchemaMismatch reports whether err is (or wraps) a schema mismatch.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}

func isUnprocessable(err error) bool {
	return errors.Is(err, ErrUnprocessable)
}

// FileInfo is the catalog context a mapper receives alongside the parsed
// document.
type FileInfo struct {
	RecordID    int64
	FileName    string
	FileType    string
	Category    string
	Legislature string
	SubSeries   string
	Session     string
	Number      string
	FilePath    string
}

// Mapper persists the derived rows for one document type inside the
// caller's transaction. Implementations must not commit or roll back tx.
// With strict set, unknown fields are a *SchemaMismatchError instead of
// being ignored.
type Mapper interface {
	ValidateAndMap(ctx context.Context, tx pgx.Tx, doc *xmlquery.Node, info FileInfo, strict bool) (int, error)
}

// Registry dispatches documents to mappers by catalog file_type.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Mapper
}

func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Mapper)}
}

// Register binds a mapper to a file type, replacing any previous binding.
func (r *Registry) Register(fileType string, m Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[fileType] = m
}

// Lookup returns the mapper for a file type.
func (r *Registry) Lookup(fileType string) (Mapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byType[fileType]
	return m, ok
}

// defaultRegistry collects mappers contributed by document-type packages,
// typically from their init functions.
var defaultRegistry = NewRegistry()

// Default returns the process-wide mapper registry.
func Default() *Registry { return defaultRegistry }
