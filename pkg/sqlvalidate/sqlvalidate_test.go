package sqlvalidate

import "testing"

func TestValidateAcceptsCompilerShapes(t *testing.T) {
	cases := []string{
		"SELECT * FROM users",
		"SELECT * FROM users WHERE (age >= ?) ORDER BY id DESC LIMIT ?",
		"SELECT COUNT(*) FROM users WHERE (id = ?)",
		"INSERT INTO users (age, id, name) VALUES (?, ?, ?)",
		"INSERT INTO users (age, id, name) VALUES (?, ?, ?) ON CONFLICT (id) DO UPDATE SET age = ?, name = ?",
		"UPDATE users SET age = ? WHERE id = ?",
		"DELETE FROM users WHERE id = ?",
		"SELECT * FROM users WHERE ((id) > (?)) ORDER BY id ASC LIMIT ?",
	}
	for _, sql := range cases {
		if err := Validate(sql); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", sql, err)
		}
	}
}

func TestValidateRejectsMalformedSQL(t *testing.T) {
	if err := Validate("SELEKT * FORM users"); err == nil {
		t.Error("want error for malformed SQL")
	}
}

func TestValidateRejectsParenthesizedBareTableName(t *testing.T) {
	if err := Validate("SELECT * FROM (users)"); err == nil {
		t.Error("want error: a parenthesized bare table name is not valid Postgres FROM syntax")
	}
}
