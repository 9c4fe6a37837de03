package conflict

import "testing"

func TestMerge3FastPaths(t *testing.T) {
	base := "a\nb\nc\n"

	if merged, clean := Merge3(base, base, base); !clean || merged != base {
		t.Fatalf("identical inputs must merge cleanly, got clean=%v merged=%q", clean, merged)
	}

	edited := "a\nB\nc\n"
	if merged, clean := Merge3(base, edited, base); !clean || merged != edited {
		t.Fatalf("only side A edited: clean=%v merged=%q", clean, merged)
	}
	if merged, clean := Merge3(base, base, edited); !clean || merged != edited {
		t.Fatalf("only side B edited: clean=%v merged=%q", clean, merged)
	}
	if merged, clean := Merge3(base, edited, edited); !clean || merged != edited {
		t.Fatalf("identical edits on both sides: clean=%v merged=%q", clean, merged)
	}
}

func TestMerge3DisjointEdits(t *testing.T) {
	base := "one\ntwo\nthree\nfour\nfive\nsix\nseven\n"
	a := "ONE\ntwo\nthree\nfour\nfive\nsix\nseven\n"
	b := "one\ntwo\nthree\nfour\nfive\nsix\nSEVEN\n"

	merged, clean := Merge3(base, a, b)
	if !clean {
		t.Fatalf("disjoint edits must merge cleanly, got %q", merged)
	}
	want := "ONE\ntwo\nthree\nfour\nfive\nsix\nSEVEN\n"
	if merged != want {
		t.Fatalf("merged = %q, want %q", merged, want)
	}
}

func TestMerge3AdjacentInsertions(t *testing.T) {
	base := "alpha\nomega\n"
	a := "alpha\nmiddle\nomega\n"
	b := "alpha\nomega\nend\n"

	merged, clean := Merge3(base, a, b)
	if !clean {
		t.Fatalf("non-overlapping insertions must merge cleanly, got %q", merged)
	}
	if merged != "alpha\nmiddle\nomega\nend\n" {
		t.Fatalf("merged = %q", merged)
	}
}

func TestMerge3OverlappingEditsConflict(t *testing.T) {
	base := "func auth() {\n  return false\n}\n"
	a := "func auth() {\n  return checkToken()\n}\n"
	b := "func auth() {\n  return checkSession()\n}\n"

	merged, clean := Merge3(base, a, b)
	if clean {
		t.Fatalf("overlapping different edits must not merge cleanly, got %q", merged)
	}
}

func TestMerge3DeleteVersusEditConflict(t *testing.T) {
	base := "a\nb\nc\n"
	a := "a\nc\n"
	b := "a\nB!\nc\n"

	if _, clean := Merge3(base, a, b); clean {
		t.Fatal("delete against edit of the same line must conflict")
	}
}

func TestMerge3PreservesMissingTrailingNewline(t *testing.T) {
	base := "a\nb"
	a := "a\nb"
	b := "a\nb2"

	merged, clean := Merge3(base, a, b)
	if !clean || merged != "a\nb2" {
		t.Fatalf("clean=%v merged=%q", clean, merged)
	}
}

func TestMerge3EmptyBase(t *testing.T) {
	merged, clean := Merge3("", "added by a\n", "")
	if !clean || merged != "added by a\n" {
		t.Fatalf("addition against empty base: clean=%v merged=%q", clean, merged)
	}

	if _, clean := Merge3("", "version a\n", "version b\n"); clean {
		t.Fatal("both sides creating different content must conflict")
	}
}
