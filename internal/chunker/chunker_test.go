// file: internal/chunker/chunker_test.go
// version: 1.1.0
// guid: 4d6f8a0c-2e4b-4d6f-8a0c-2e4b6d8f0a2c

package chunker

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jdfalk/exam-results/internal/fetcher"
	"github.com/jdfalk/exam-results/internal/fileops"
	"github.com/jdfalk/exam-results/internal/loader"
	"github.com/jdfalk/exam-results/internal/lookup"
	"github.com/jdfalk/exam-results/internal/models"
	"github.com/jdfalk/exam-results/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shuffled(t *testing.T, n int, seed int64) ([]byte, []int64) {
	rng := rand.New(rand.NewSource(seed))
	var students []map[string]any
	var ids []int64
	next := int64(1)
	for i := 0; i < n; i++ {
		next += int64(rng.Intn(5) + 1)
		ids = append(ids, next)
		students = append(students, testutil.Student(next, "طالب", "student"))
	}
	rng.Shuffle(len(students), func(i, j int) { students[i], students[j] = students[j], students[i] })
	return testutil.MustJSON(t, students), ids
}

func TestSplit_CoverageProperty(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		n := 1 + int(seed)*37
		data, ids := shuffled(t, n, seed)
		plan, err := Split(data, Options{ChunkSize: 1 + int(seed)*3})
		require.NoError(t, err)

		require.NoError(t, VerifyCoverage(&plan.Manifest, ids))
		assert.Equal(t, n, plan.Manifest.Metadata.TotalRecords)
		assert.Len(t, plan.Files, plan.Manifest.Metadata.TotalChunks)
		assert.ElementsMatch(t, ids, plan.IDs)
		for i := 1; i < len(plan.IDs); i++ {
			assert.Less(t, plan.IDs[i-1], plan.IDs[i])
		}
	}
}

func TestSplit_ChunkShape(t *testing.T) {
	data := testutil.MustJSON(t, map[string]any{"students": testutil.Range(1, 25)})
	now := time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC)
	plan, err := Split(data, Options{ChunkSize: 10, Session: "regular", Year: 2025, Now: func() time.Time { return now }})
	require.NoError(t, err)

	m := plan.Manifest
	assert.Equal(t, 3, m.Metadata.TotalChunks)
	assert.Equal(t, "2025-07-20T10:00:00Z", m.Metadata.CreatedAt)
	assert.Len(t, m.Metadata.Version, 26)
	assert.Equal(t, "regular", m.Metadata.Session)

	last := plan.Files[2]
	assert.Equal(t, "chunk-002.json", last.Name)
	assert.Equal(t, 20, last.Metadata.StartIndex)
	assert.Equal(t, 24, last.Metadata.EndIndex)
	assert.Equal(t, 5, last.Metadata.RecordCount)
	assert.Equal(t, models.IDRange{Min: models.ID(21), Max: models.ID(25)}, m.Chunks[2].NodeRange)
}

func TestSplit_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"duplicate", `[{"NODOSS":1},{"NODOSS":2},{"NODOSS":1}]`},
		{"missing id", `[{"NODOSS":1},{"NOM_FR":"x"}]`},
		{"zero id", `[{"NODOSS":0}]`},
		{"empty", `[]`},
		{"not records", `{"foo":1}`},
		{"scalar item", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split([]byte(tt.data), Options{})
			assert.Error(t, err)
		})
	}
}

func TestVerifyCoverage_Failures(t *testing.T) {
	r := func(lo, hi int64) models.IDRange { return models.IDRange{Min: models.ID(lo), Max: models.ID(hi)} }
	tests := []struct {
		name   string
		chunks []models.ChunkDescriptor
		ids    []int64
	}{
		{"gap", []models.ChunkDescriptor{{File: "a", RecordCount: 1, NodeRange: r(1, 5)}}, []int64{3, 9}},
		{"overlap", []models.ChunkDescriptor{{File: "a", RecordCount: 1, NodeRange: r(1, 5)}, {File: "b", RecordCount: 1, NodeRange: r(5, 9)}}, []int64{1, 9}},
		{"count", []models.ChunkDescriptor{{File: "a", RecordCount: 3, NodeRange: r(1, 5)}}, []int64{1, 2}},
		{"duplicate", []models.ChunkDescriptor{{File: "a", RecordCount: 2, NodeRange: r(1, 5)}}, []int64{2, 2}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, VerifyCoverage(&models.Manifest{Chunks: tt.chunks}, tt.ids))
		})
	}
}

func TestWriteDir_ReadableByLoader(t *testing.T) {
	data, ids := shuffled(t, 120, 42)
	plan, err := Split(data, Options{ChunkSize: 25, Session: "regular"})
	require.NoError(t, err)

	root := t.TempDir()
	require.NoError(t, plan.WriteDir(filepath.Join(root, "regular")))
	_, err = os.Stat(filepath.Join(root, "regular", "chunk-004.json"))
	require.NoError(t, err)

	sessions := []loader.Session{{
		Name:         "regular",
		ManifestPath: "regular/" + ManifestName,
		ChunkPrefix:  "regular",
	}}
	c, err := lookup.NewCoordinator(sessions, fetcher.NewDirSource(root), loader.Options{}, "")
	require.NoError(t, err)

	for _, id := range []int64{ids[0], ids[57], ids[119]} {
		rec, err := c.FindByID(context.Background(), strconv.FormatInt(id, 10), nil)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, id, rec.ID)
		assert.Equal(t, "student", rec.NameFr)
	}

	l, err := c.Loader("regular")
	require.NoError(t, err)
	m, err := l.LoadManifest(context.Background())
	require.NoError(t, err)
	assert.NoError(t, VerifyCoverage(m, ids))
}

func TestWriteDir_RewriteKeepsManifestBackup(t *testing.T) {
	data, _ := shuffled(t, 30, 7)
	dir := filepath.Join(t.TempDir(), "regular")

	first, err := Split(data, Options{ChunkSize: 10, Session: "regular"})
	require.NoError(t, err)
	require.NoError(t, first.WriteDir(dir))
	require.Len(t, first.Checksums, 4)

	second, err := Split(data, Options{ChunkSize: 15, Session: "regular"})
	require.NoError(t, err)
	require.NoError(t, second.WriteDir(dir))

	backups, err := fileops.Backups(filepath.Join(dir, BackupDir), ManifestName)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	ok, err := fileops.VerifyFileIntegrity(backups[0], first.Checksums[ManifestName])
	require.NoError(t, err)
	assert.True(t, ok, "backup should hold the replaced manifest")

	ok, err = fileops.VerifyFileIntegrity(filepath.Join(dir, ManifestName), second.Checksums[ManifestName])
	require.NoError(t, err)
	assert.True(t, ok)
}
