package s3

import "testing"

func TestCleanObjectKey(t *testing.T) {
	cases := map[string]string{
		"files/abc":           "files/abc",
		"/files/abc":          "files/abc",
		"chunks/a/../b/1":     "chunks/b/1",
		"../../escape/out":    "escape/out",
		"files//double/slash": "files/double/slash",
	}
	for in, want := range cases {
		if got := cleanObjectKey(in); got != want {
			t.Fatalf("cleanObjectKey(%q) = %q, want %q", in, got, want)
		}
	}
}
