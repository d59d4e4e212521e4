package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kart-io/compliance-rag/internal/model"
	"github.com/kart-io/compliance-rag/pkg/infra/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF 生成一个最小的 PDF，每个字符串占一页。
func buildPDF(pages []string) []byte {
	var buf bytes.Buffer
	offsets := []int{}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.NewPool("test-ingest", pool.IngestPool, pool.IngestPoolConfig(2))
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func TestLoader_TextAndSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), []byte("Methane surveys are quarterly."))
	writeFile(t, filepath.Join(dir, "a", "c.txt"), []byte("Venting requires a permit."))
	writeFile(t, filepath.Join(dir, "ignored.docx"), []byte("not loaded"))
	writeFile(t, filepath.Join(dir, "blank.txt"), []byte("   \n"))

	res, err := New(dir, nil, newTestPool(t)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Files)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, &model.Document{Source: "a/c.txt", Content: "Venting requires a permit."}, res.Documents[0])
	assert.Equal(t, "b.txt", res.Documents[1].Source)
	assert.Equal(t, 0, res.Documents[1].Page)
}

func TestLoader_PDFPerPage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "reg1.pdf"), buildPDF([]string{
		"Flaring is limited to 24 hours.",
		"Operators must report venting events.",
	}))

	res, err := New(dir, []string{".pdf"}, nil).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)

	assert.Equal(t, "reg1.pdf", res.Documents[0].Source)
	assert.Equal(t, 1, res.Documents[0].Page)
	assert.Contains(t, res.Documents[0].Content, "Flaring is limited to 24 hours.")
	assert.Equal(t, 2, res.Documents[1].Page)
	assert.Contains(t, res.Documents[1].Content, "venting events")
}

func TestLoader_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.pdf"), []byte("this is not a pdf"))
	writeFile(t, filepath.Join(dir, "empty.pdf"), nil)
	writeFile(t, filepath.Join(dir, "latin1.txt"), []byte{0xff, 0xfe, 0x00, 0xd8})
	writeFile(t, filepath.Join(dir, "good.txt"), []byte("Leak detection is required."))

	res, err := New(dir, nil, newTestPool(t)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Files)
	assert.ElementsMatch(t, []string{"broken.pdf", "empty.pdf", "latin1.txt"}, res.Skipped)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "good.txt", res.Documents[0].Source)
}

func TestLoader_MissingOrEmptyDir(t *testing.T) {
	res, err := New(filepath.Join(t.TempDir(), "missing"), nil, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Documents)

	res, err = New(t.TempDir(), nil, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	assert.Zero(t, res.Files)
}

func TestLoader_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(dir, nil, nil).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_Deterministic(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, filepath.Join(dir, fmt.Sprintf("doc%02d.txt", i)), []byte(fmt.Sprintf("content %d", i)))
	}

	l := New(dir, nil, newTestPool(t))
	first, err := l.Load(context.Background())
	require.NoError(t, err)
	second, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Documents, second.Documents)
	assert.Equal(t, "doc00.txt", first.Documents[0].Source)
}

func TestLoader_RegisterReader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), []byte("# Title"))

	l := New(dir, []string{".md"}, nil)
	l.RegisterReader("MD", func(string) ([]*model.Document, error) {
		return []*model.Document{{Content: "custom"}}, nil
	})

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "custom", res.Documents[0].Content)
	assert.Equal(t, []string{".md"}, l.Extensions())
}
