package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/bom-stat-service/internal/domain"
	"github.com/couchcryptid/bom-stat-service/internal/observability"
)

type zipEntry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestExtract_WritesOnlyDataFiles(t *testing.T) {
	base := t.TempDir()
	metrics := observability.NewMetricsForTesting()
	ex := NewExtractor(base, nil, metrics)

	data := buildZip(t,
		zipEntry{"IDCJAC0009_086338_1800_Note.txt", "notes"},
		zipEntry{"IDCJAC0009_086338_1800_Data.csv", "Year,Month,Day\n2018,01,01\n"},
		zipEntry{"readme.html", "<p>hi</p>"},
	)

	out, err := ex.Extract(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(out.Dir) })

	assert.True(t, strings.HasPrefix(filepath.Base(out.Dir), "bom-stat-"))
	assert.Equal(t, base, filepath.Dir(out.Dir))
	assert.Equal(t, []string{"IDCJAC0009_086338_1800_Data.csv"}, listDir(t, out.Dir))
	assert.Equal(t, filepath.Join(out.Dir, "IDCJAC0009_086338_1800_Data.csv"), out.DataFile)
	assert.Len(t, out.Discarded, 2)

	content, err := os.ReadFile(out.DataFile)
	require.NoError(t, err)
	assert.Equal(t, "Year,Month,Day\n2018,01,01\n", string(content))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ArchiveEntries.WithLabelValues("data")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ArchiveEntries.WithLabelValues("discarded")))
}

func TestExtract_MultipleDataFilesKeepsLast(t *testing.T) {
	ex := NewExtractor(t.TempDir(), nil, nil)

	data := buildZip(t,
		zipEntry{"a_Data.csv", "Year\n2001\n"},
		zipEntry{"notes.txt", "x"},
		zipEntry{"b_Data12.csv", "Year\n2002\n"},
		zipEntry{"c_Data.csv", "Year\n2003\n"},
	)

	out, err := ex.Extract(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(out.Dir) })

	assert.Len(t, out.DataFiles, 3)
	assert.ElementsMatch(t, []string{"a_Data.csv", "b_Data12.csv", "c_Data.csv"}, listDir(t, out.Dir))
	assert.Equal(t, "c_Data.csv", filepath.Base(out.DataFile))
}

func TestExtract_NoDataFile(t *testing.T) {
	base := t.TempDir()
	ex := NewExtractor(base, nil, nil)

	data := buildZip(t, zipEntry{"notes.txt", "x"}, zipEntry{"more.txt", "y"})

	_, err := ex.Extract(context.Background(), bytes.NewReader(data))

	var ae *domain.ArchiveFormatError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 2, ae.Entries)
	assert.Empty(t, listDir(t, base), "temp dir should be removed on failure")
}

func TestExtract_NotAZip(t *testing.T) {
	base := t.TempDir()
	ex := NewExtractor(base, nil, nil)

	_, err := ex.Extract(context.Background(), strings.NewReader("<html>session expired</html>"))

	var ae *domain.ArchiveFormatError
	require.True(t, errors.As(err, &ae))
	assert.Empty(t, listDir(t, base))
}

func TestExtract_NestedEntryFlattened(t *testing.T) {
	ex := NewExtractor(t.TempDir(), nil, nil)

	data := buildZip(t, zipEntry{"IDCJAC0009/IDCJAC0009_086338_1800_Data.csv", "Year\n2001\n"})

	out, err := ex.Extract(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(out.Dir) })

	assert.Equal(t, filepath.Join(out.Dir, "IDCJAC0009_086338_1800_Data.csv"), out.DataFile)
}

func TestExtract_CancelledContext(t *testing.T) {
	base := t.TempDir()
	ex := NewExtractor(base, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Extract(ctx, bytes.NewReader(buildZip(t, zipEntry{"a.csv", "Year\n"})))

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listDir(t, base))
}

func TestExtract_UniqueDirectories(t *testing.T) {
	ex := NewExtractor(t.TempDir(), nil, nil)
	data := buildZip(t, zipEntry{"a.csv", "Year\n2001\n"})

	first, err := ex.Extract(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	second, err := ex.Extract(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	assert.NotEqual(t, first.Dir, second.Dir)
}

func TestExtract_ReadFailureIsUpstream(t *testing.T) {
	base := t.TempDir()
	ex := NewExtractor(base, nil, nil)

	full := buildZip(t, zipEntry{"a_Data.csv", "Year\n2001\n"})
	body := io.MultiReader(bytes.NewReader(full[:10]), iotest.ErrReader(io.ErrUnexpectedEOF))

	_, err := ex.Extract(context.Background(), body)

	var ue *domain.UpstreamUnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, domain.StageFetch, ue.Stage)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Empty(t, listDir(t, base))
}

func TestExtract_ReadFailureKeepsUpstreamContext(t *testing.T) {
	ex := NewExtractor(t.TempDir(), nil, nil)

	cause := &domain.UpstreamUnavailableError{
		Stage:   domain.StageFetch,
		Station: "086071",
		URL:     "http://bom.test/tmp/cdio/x.zip",
		Err:     context.DeadlineExceeded,
	}
	_, err := ex.Extract(context.Background(), iotest.ErrReader(cause))

	var ue *domain.UpstreamUnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "http://bom.test/tmp/cdio/x.zip", ue.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtract_DuplicateBaseNamesKeptApart(t *testing.T) {
	ex := NewExtractor(t.TempDir(), nil, nil)

	data := buildZip(t,
		zipEntry{"2017/x_Data.csv", "Year\n2017\n"},
		zipEntry{"2018/x_Data.csv", "Year\n2018\n"},
	)

	out, err := ex.Extract(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(out.Dir) })

	require.Len(t, out.DataFiles, 2)
	assert.NotEqual(t, out.DataFiles[0], out.DataFiles[1])
	for _, path := range out.DataFiles {
		assert.Equal(t, "x_Data.csv", filepath.Base(path))
	}

	first, err := os.ReadFile(out.DataFiles[0])
	require.NoError(t, err)
	assert.Equal(t, "Year\n2017\n", string(first))

	last, err := os.ReadFile(out.DataFile)
	require.NoError(t, err)
	assert.Equal(t, "Year\n2018\n", string(last))
}
