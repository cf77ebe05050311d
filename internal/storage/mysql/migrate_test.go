package mysql

import (
	"strings"
	"testing"
)

func TestLoadMigrationsOrderedByVersion(t *testing.T) {
	files, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(files) < 3 {
		t.Fatalf("期望至少 3 个迁移文件, 实际 %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].version > files[i].version {
			t.Fatalf("迁移未按版本排序: %s 在 %s 之前", files[i-1].name, files[i].name)
		}
	}
	for _, f := range files {
		if len(f.statements) == 0 {
			t.Errorf("迁移 %s 没有任何语句", f.name)
		}
		for _, stmt := range f.statements {
			if strings.TrimSpace(stmt) == "" {
				t.Errorf("迁移 %s 含空语句", f.name)
			}
		}
	}
}

func TestSplitStatements(t *testing.T) {
	statements := splitStatements("CREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);\n;")
	if len(statements) != 2 {
		t.Fatalf("期望 2 条语句, 实际 %d: %v", len(statements), statements)
	}
	if !strings.HasPrefix(statements[1], "CREATE TABLE b") {
		t.Fatalf("语句拆分错误: %q", statements[1])
	}
}

func TestMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_streams.sql": "0001",
		"0002_registry.sql": "0002",
		"plain.sql":        "plain",
	}
	for name, want := range cases {
		if got := migrationVersion(name); got != want {
			t.Errorf("migrationVersion(%q) = %q, 期望 %q", name, got, want)
		}
	}
}
