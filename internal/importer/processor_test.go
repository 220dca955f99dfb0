package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/antchfx/xmlquery"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openparl/records-pipeline/internal/catalog"
	"github.com/openparl/records-pipeline/internal/catalog/catalogtest"
)

type mapperFunc func(ctx context.Context, tx pgx.Tx, doc *xmlquery.Node, info FileInfo, strict bool) (int, error)

func (f mapperFunc) ValidateAndMap(ctx context.Context, tx pgx.Tx, doc *xmlquery.Node, info FileInfo, strict bool) (int, error) {
	return f(ctx, tx, doc, info, strict)
}

func writeTestFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.xml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func seedProcessing(store *catalogtest.FakeStore, path string) int64 {
	return store.Seed(catalog.Record{
		FileURL:  "https://records.example/doc.xml?fich=tok",
		FileName: "doc.xml",
		FileType: "xml",
		FilePath: path,
		FileHash: "deadbeef",
		Status:   catalog.StatusProcessing,
	})
}

func newTestProcessor(t *testing.T, store *catalogtest.FakeStore, reg *Registry, strict bool) (*Processor, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	p := NewProcessor(Config{Workers: 2, Strict: strict}, store, mock, reg, zap.NewNop())
	return p, mock
}

func TestProcessBatchCompletesFile(t *testing.T) {
	store := catalogtest.NewFakeStore()
	id := seedProcessing(store, writeTestFile(t, `<session><speech/><speech/></session>`))

	var gotInfo FileInfo
	reg := NewRegistry()
	reg.Register("xml", mapperFunc(func(_ context.Context, _ pgx.Tx, doc *xmlquery.Node, info FileInfo, _ bool) (int, error) {
		gotInfo = info
		return len(xmlquery.Find(doc, "//speech")), nil
	}))

	p, mock := newTestProcessor(t, store, reg, false)
	mock.ExpectBegin()
	mock.ExpectCommit()

	results := p.ProcessBatch(context.Background(), []int64{id})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, catalog.StatusCompleted, results[0].Status)
	require.Equal(t, 2, results[0].RecordsImported)
	require.Equal(t, id, gotInfo.RecordID)
	require.Equal(t, "doc.xml", gotInfo.FileName)

	rec := store.Record(id)
	require.Equal(t, catalog.StatusCompleted, rec.Status)
	require.Equal(t, 2, rec.RecordsImported)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBatchStrictUnknownFieldIsSchemaMismatch(t *testing.T) {
	store := catalogtest.NewFakeStore()
	id := seedProcessing(store, writeTestFile(t, `<session><unknown_block/></session>`))

	reg := NewRegistry()
	reg.Register("xml", mapperFunc(func(_ context.Context, _ pgx.Tx, doc *xmlquery.Node, _ FileInfo, strict bool) (int, error) {
		if strict && xmlquery.FindOne(doc, "//unknown_block") != nil {
			return 0, &SchemaMismatchError{FileType: "xml", Detail: "unknown_block is not mapped"}
		}
		return 1, nil
	}))

	p, mock := newTestProcessor(t, store, reg, true)
	mock.ExpectBegin()
	mock.ExpectRollback()

	results := p.ProcessBatch(context.Background(), []int64{id})
	require.Equal(t, catalog.StatusSchemaMismatch, results[0].Status)
	require.NotEqual(t, catalog.StatusCompleted, results[0].Status)
	require.NotEqual(t, catalog.StatusImportError, results[0].Status)

	rec := store.Record(id)
	require.Equal(t, catalog.StatusSchemaMismatch, rec.Status)
	require.Contains(t, rec.ErrorMessage, "unknown_block")
}

func TestProcessBatchUnprocessableIsSkipped(t *testing.T) {
	store := catalogtest.NewFakeStore()
	id := seedProcessing(store, writeTestFile(t, `<session/>`))

	reg := NewRegistry()
	reg.Register("xml", mapperFunc(func(_ context.Context, _ pgx.Tx, _ *xmlquery.Node, _ FileInfo, _ bool) (int, error) {
		return 0, ErrUnprocessable
	}))

	p, mock := newTestProcessor(t, store, reg, false)
	mock.ExpectBegin()
	mock.ExpectRollback()

	results := p.ProcessBatch(context.Background(), []int64{id})
	require.Equal(t, catalog.StatusSkipped, results[0].Status)
	require.Equal(t, catalog.StatusSkipped, store.Record(id).Status)
}

func TestProcessBatchPanicDoesNotAbortBatch(t *testing.T) {
	store := catalogtest.NewFakeStore()
	bad := seedProcessing(store, writeTestFile(t, `<session><bomb/></session>`))
	good := seedProcessing(store, writeTestFile(t, `<session/>`))

	reg := NewRegistry()
	reg.Register("xml", mapperFunc(func(_ context.Context, _ pgx.Tx, doc *xmlquery.Node, _ FileInfo, _ bool) (int, error) {
		if xmlquery.FindOne(doc, "//bomb") != nil {
			panic("mapper exploded")
		}
		return 1, nil
	}))

	p, mock := newTestProcessor(t, store, reg, false)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectBegin()
	mock.ExpectBegin()
	mock.ExpectCommit()

	results := p.ProcessBatch(context.Background(), []int64{bad, good})
	require.Len(t, results, 2)

	require.Equal(t, catalog.StatusImportError, results[0].Status)
	require.ErrorContains(t, results[0].Err, "mapper exploded")
	require.Equal(t, catalog.StatusImportError, store.Record(bad).Status)

	require.Equal(t, catalog.StatusCompleted, results[1].Status)
	require.Equal(t, catalog.StatusCompleted, store.Record(good).Status)
}

func TestProcessBatchUndecodableIsImportError(t *testing.T) {
	store := catalogtest.NewFakeStore()
	id := seedProcessing(store, writeTestFile(t, "no markup at all"))

	p, _ := newTestProcessor(t, store, NewRegistry(), false)

	results := p.ProcessBatch(context.Background(), []int64{id})
	require.Equal(t, catalog.StatusImportError, results[0].Status)
	rec := store.Record(id)
	require.Equal(t, catalog.StatusImportError, rec.Status)
	require.Equal(t, 1, rec.ErrorCount)
}

func TestProcessBatchMissingContentIsImportError(t *testing.T) {
	store := catalogtest.NewFakeStore()
	id := store.Seed(catalog.Record{
		FileURL:  "https://records.example/empty.xml",
		FileName: "empty.xml",
		FileType: "xml",
		Status:   catalog.StatusProcessing,
	})

	p, _ := newTestProcessor(t, store, NewRegistry(), false)

	results := p.ProcessBatch(context.Background(), []int64{id})
	require.Equal(t, catalog.StatusImportError, results[0].Status)
	require.ErrorContains(t, results[0].Err, "no downloaded content")
}

func TestProcessBatchUnregisteredTypeIsSchemaMismatch(t *testing.T) {
	store := catalogtest.NewFakeStore()
	id := seedProcessing(store, writeTestFile(t, `<session/>`))

	p, _ := newTestProcessor(t, store, NewRegistry(), false)

	results := p.ProcessBatch(context.Background(), []int64{id})
	require.Equal(t, catalog.StatusSchemaMismatch, results[0].Status)
	require.True(t, IsSchemaMismatch(results[0].Err))
}
