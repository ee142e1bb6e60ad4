package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "comments and blank lines",
			sql:  "-- header\nCREATE TABLE a (x Int64) ENGINE = Memory;\n\nCREATE TABLE b (\n    y String -- note\n) ENGINE = Memory;\n",
			want: []string{"CREATE TABLE a (x Int64) ENGINE = Memory", "CREATE TABLE b (\n    y String \n) ENGINE = Memory"},
		},
		{
			name: "semicolon inside literal",
			sql:  "SELECT 'a;b'; SELECT 2",
			want: []string{"SELECT 'a;b'", "SELECT 2"},
		},
		{
			name: "doubled and escaped quotes",
			sql:  "SELECT 'it''s;'; SELECT 'c\\';d'",
			want: []string{"SELECT 'it''s;'", "SELECT 'c\\';d'"},
		},
		{
			name: "dashes inside literal",
			sql:  "SELECT '--x';",
			want: []string{"SELECT '--x'"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitStatements(tt.sql)
			if err != nil {
				t.Fatalf("splitStatements: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d statements %q, want %q", len(got), got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("statement %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitStatements_Unterminated(t *testing.T) {
	if _, err := splitStatements("SELECT 'open;"); err == nil {
		t.Fatal("expected error for unterminated literal")
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{"clickhouse://localhost:9000/agent_rep", "agent_rep", false},
		{"clickhouse://user:pw@host/analytics", "analytics", false},
		{"clickhouse://localhost:9000", "", true},
		{"clickhouse://localhost:9000/bad-name", "", true},
		{"clickhouse://localhost/x;DROP", "", true},
	}
	for _, tt := range tests {
		got, err := databaseFromDSN(tt.dsn)
		if (err != nil) != tt.wantErr {
			t.Errorf("databaseFromDSN(%q) error = %v, wantErr %v", tt.dsn, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("databaseFromDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, tt := range []struct {
		fsys fs.FS
		dir  string
	}{
		{PostgresFS, "postgres"},
		{ClickhouseFS, "clickhouse"},
	} {
		files, err := sqlFiles(tt.fsys, tt.dir)
		if err != nil {
			t.Fatalf("sqlFiles(%s): %v", tt.dir, err)
		}
		if len(files) == 0 {
			t.Fatalf("no embedded %s migrations", tt.dir)
		}
		for _, f := range files {
			data, err := fs.ReadFile(tt.fsys, tt.dir+"/"+f)
			if err != nil {
				t.Fatalf("read %s: %v", f, err)
			}
			if strings.TrimSpace(string(data)) == "" {
				t.Errorf("%s is empty", f)
			}
			if tt.dir == "clickhouse" {
				if _, err := splitStatements(string(data)); err != nil {
					t.Errorf("%s: %v", f, err)
				}
			}
		}
	}
}
