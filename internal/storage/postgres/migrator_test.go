package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func versionsOf(plan []migration) []int64 {
	out := make([]int64, 0, len(plan))
	for _, m := range plan {
		out = append(out, m.version)
	}
	return out
}

func TestLoadMigrations(t *testing.T) {
	t.Parallel()

	set, err := loadMigrations(fstest.MapFS{
		"sql/migrations/0002_add_index.up.sql":   sqlFile("CREATE INDEX idx ON t (a);"),
		"sql/migrations/0002_add_index.down.sql": sqlFile("DROP INDEX idx;"),
		"sql/migrations/0001_create_t.up.sql":    sqlFile("\n CREATE TABLE t (a INT); \n"),
		"sql/migrations/0001_create_t.down.sql":  sqlFile("DROP TABLE t;"),
	})
	require.NoError(t, err)
	require.Len(t, set, 2)

	assert.Equal(t, migration{version: 1, name: "create_t", up: "CREATE TABLE t (a INT);", down: "DROP TABLE t;"}, set[0])
	assert.Equal(t, "0002_add_index", set[1].String())
}

func TestLoadMigrations_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   fstest.MapFS
		wantErr string
	}{
		{
			name:    "no directory",
			files:   fstest.MapFS{},
			wantErr: "read sql/migrations",
		},
		{
			name: "stray file",
			files: fstest.MapFS{
				"sql/migrations/README.md": sqlFile("docs"),
			},
			wantErr: `unexpected file "README.md"`,
		},
		{
			name: "missing down",
			files: fstest.MapFS{
				"sql/migrations/0001_create_t.up.sql": sqlFile("CREATE TABLE t (a INT);"),
			},
			wantErr: "0001_create_t needs both up and down files",
		},
		{
			name: "blank body",
			files: fstest.MapFS{
				"sql/migrations/0001_create_t.up.sql":   sqlFile("  \n\t"),
				"sql/migrations/0001_create_t.down.sql": sqlFile("DROP TABLE t;"),
			},
			wantErr: "is empty",
		},
		{
			name: "conflicting names",
			files: fstest.MapFS{
				"sql/migrations/0001_create_t.up.sql":   sqlFile("CREATE TABLE t (a INT);"),
				"sql/migrations/0001_create_u.down.sql": sqlFile("DROP TABLE u;"),
			},
			wantErr: "conflicting names",
		},
		{
			name: "duplicate direction",
			files: fstest.MapFS{
				"sql/migrations/0001_create_t.up.sql":   sqlFile("CREATE TABLE t (a INT);"),
				"sql/migrations/001_create_t.up.sql":    sqlFile("CREATE TABLE t (a INT);"),
				"sql/migrations/0001_create_t.down.sql": sqlFile("DROP TABLE t;"),
			},
			wantErr: "version 1 has two up files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := loadMigrations(tt.files)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	set, err := loadMigrations(embeddedMigrations)
	require.NoError(t, err)

	names := make([]string, 0, len(set))
	for _, m := range set {
		names = append(names, m.String())
	}
	assert.Equal(t, []string{
		"0001_create_customers",
		"0002_create_products",
		"0003_create_orders",
		"0004_create_orders_products",
		"0005_create_outbox_messages",
	}, names)
}

func TestMigrationSet_Plans(t *testing.T) {
	t.Parallel()

	set := migrationSet{{version: 1}, {version: 2}, {version: 3}, {version: 4}}

	tests := []struct {
		name     string
		applied  map[int64]bool
		steps    int
		forward  []int64
		backward []int64
	}{
		{
			name:     "fresh schema",
			applied:  map[int64]bool{},
			forward:  []int64{1, 2, 3, 4},
			backward: []int64{},
		},
		{
			name:     "partially applied",
			applied:  map[int64]bool{1: true, 2: true},
			forward:  []int64{3, 4},
			backward: []int64{2, 1},
		},
		{
			name:     "limited steps",
			applied:  map[int64]bool{1: true, 2: true, 3: true},
			steps:    1,
			forward:  []int64{4},
			backward: []int64{3},
		},
		{
			name:     "gap is filled first",
			applied:  map[int64]bool{1: true, 3: true},
			steps:    1,
			forward:  []int64{2},
			backward: []int64{3},
		},
		{
			name:     "fully applied",
			applied:  map[int64]bool{1: true, 2: true, 3: true, 4: true},
			forward:  []int64{},
			backward: []int64{4, 3, 2, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.forward, versionsOf(set.forward(tt.applied, tt.steps)))

			down, err := set.backward(tt.applied, tt.steps)
			require.NoError(t, err)
			assert.Equal(t, tt.backward, versionsOf(down))
		})
	}
}

func TestMigrationSet_BackwardUnknownVersion(t *testing.T) {
	t.Parallel()

	set := migrationSet{{version: 1}, {version: 2}}
	_, err := set.backward(map[int64]bool{1: true, 7: true}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "applied migration 7")
}
