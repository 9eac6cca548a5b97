package collector

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"whitespace", "SELECT *\n\t FROM   users\nWHERE id = $1", "SELECT * FROM users WHERE id = $1"},
		{"string literal", "SELECT * FROM users WHERE email = 'a@b.c'", "SELECT * FROM users WHERE email = ?"},
		{"escaped quote", "SELECT 'it''s' AS x", "SELECT ? AS x"},
		{"numbers", "SELECT * FROM t1 WHERE a = 42 AND b > 3.14 LIMIT 10", "SELECT * FROM t1 WHERE a = ? AND b > ? LIMIT ?"},
		{"identifiers with digits", "SELECT col2 FROM table_3", "SELECT col2 FROM table_3"},
		{"placeholders untouched", "UPDATE t SET a = $1 WHERE id = $2", "UPDATE t SET a = $1 WHERE id = $2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.query, 0, false); got != tt.want {
				t.Errorf("Normalize = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalize_Full(t *testing.T) {
	q := "SELECT  *  FROM users WHERE email = 'a@b.c'"
	if got := Normalize(q, 0, true); got != q {
		t.Errorf("full text changed: %q", got)
	}
}

func TestNormalize_Truncate(t *testing.T) {
	long := "SELECT " + strings.Repeat("col, ", 1000) + "x FROM t"
	got := Normalize(long, 2048, false)
	if n := utf8.RuneCountInString(got); n != 2048 {
		t.Errorf("length = %d, want 2048", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("missing truncation marker")
	}

	short := "SELECT 1"
	if got := Normalize(short, 2048, true); got != short {
		t.Errorf("short query changed: %q", got)
	}

	multi := strings.Repeat("é", 10)
	if got := truncate(multi, 5); got != "éé..." {
		t.Errorf("truncate runes = %q", got)
	}
	if got := truncate("abcdef", 2); got != "..." {
		t.Errorf("tiny limit = %q", got)
	}
}
