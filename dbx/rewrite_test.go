package dbx

import "testing"

func TestRewritePostgres(t *testing.T) {
	// WHAT: `?` placeholders become $1…$n for the hosted backend.
	// WHY: every caller writes the neutral dialect; the rewrite must be exact.
	cases := []struct{ in, want string }{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM stores WHERE id = ?", "SELECT * FROM stores WHERE id = $1"},
		{
			"DELETE FROM product_metrics WHERE store_id = ? AND date = ?",
			"DELETE FROM product_metrics WHERE store_id = $1 AND date = $2",
		},
		{
			"INSERT INTO t (a, b, c) VALUES (?, ?, ?)",
			"INSERT INTO t (a, b, c) VALUES ($1, $2, $3)",
		},
	}
	for _, c := range cases {
		if got := Rewrite(DialectPostgres, c.in); got != c.want {
			t.Errorf("Rewrite(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRewriteLeavesLiteralsAlone(t *testing.T) {
	// WHAT: `?` inside single-quoted literals is not a placeholder.
	// WHY: URLs with query strings end up in WHERE clauses as literals.
	in := "SELECT * FROM t WHERE url = 'https://x.test/p?id=1' AND id = ?"
	want := "SELECT * FROM t WHERE url = 'https://x.test/p?id=1' AND id = $1"
	if got := Rewrite(DialectPostgres, in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Escaped quote inside a literal must not flip the literal state.
	in = "SELECT * FROM t WHERE name = 'it''s?' AND id = ?"
	want = "SELECT * FROM t WHERE name = 'it''s?' AND id = $1"
	if got := Rewrite(DialectPostgres, in); got != want {
		t.Errorf("escaped quote: got %q, want %q", got, want)
	}
}

func TestRewriteSQLitePassthrough(t *testing.T) {
	// WHAT: the embedded backend keeps `?` untouched.
	// WHY: semantic invariance of the neutral dialect (same query, both backends).
	in := "SELECT * FROM stores WHERE id = ?"
	if got := Rewrite(DialectSQLite, in); got != in {
		t.Errorf("got %q, want passthrough", got)
	}
}
