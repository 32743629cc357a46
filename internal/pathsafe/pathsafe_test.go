package pathsafe

import "testing"

func TestValidateRejects(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"/etc/passwd",
		`\windows\system32`,
		`C:\Windows\system32`,
		"..",
		"../escape.txt",
		"a/../../escape.txt",
		"a/..",
		"../../a",
		"a/..b", // not actually unsafe; handled in accept test
	}

	for _, tc := range cases[:len(cases)-1] {
		t.Run(tc, func(t *testing.T) {
			if err := Validate(tc); err == nil {
				t.Errorf("Validate(%q) = nil, want error", tc)
			}
		})
	}
}

func TestValidateRejectsInvalidChars(t *testing.T) {
	for _, tc := range []string{"a<b.txt", `a"b.txt`, "a|b.txt", "a?b.txt", "a*b.txt"} {
		if err := Validate(tc); err == nil {
			t.Errorf("Validate(%q) = nil, want error", tc)
		}
	}
}

func TestValidateAccepts(t *testing.T) {
	cases := []string{
		"a.txt",
		"subdir/sub.txt",
		"a/b/c/d.bin",
		"a..b.txt",
		"a/..b/c.txt",
		"...dots.txt",
	}

	for _, tc := range cases {
		if err := Validate(tc); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", tc, err)
		}
	}
}
