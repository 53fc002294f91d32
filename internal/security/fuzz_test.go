package security

import (
	"strings"
	"testing"
)

// FuzzPathValidate checks the core containment invariant under
// adversarial input: any accepted path must canonicalize inside the
// whitelist, and the validator must never panic.
func FuzzPathValidate(f *testing.F) {
	seeds := []string{
		"data.txt",
		"../../../etc/passwd",
		"..\\..\\windows\\system32",
		"/etc/passwd",
		"a/b/../../../../root/.ssh/id_rsa",
		"./././data.txt",
		"\x00hidden",
		strings.Repeat("../", 64) + "etc/shadow",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	tmpDir := f.TempDir()
	validator, err := NewPath([]string{tmpDir})
	if err != nil {
		f.Fatalf("NewPath() unexpected error: %v", err)
	}
	root := validator.Roots()[0]

	f.Fuzz(func(t *testing.T, path string) {
		d, err := validator.Validate(path)
		if err != nil {
			return
		}
		if !d.Allowed {
			t.Errorf("nil error but decision not allowed: %+v", d)
		}
		if d.Real != root && !strings.HasPrefix(d.Real, root+"/") {
			t.Errorf("accepted path escapes whitelist: input %q, real %q", path, d.Real)
		}
	})
}

// FuzzURLValidate checks that the URL validator never panics and never
// accepts a loopback or metadata literal under the default policy.
func FuzzURLValidate(f *testing.F) {
	seeds := []string{
		"https://example.com/data",
		"http://127.0.0.1:8080/",
		"http://169.254.169.254/latest/meta-data/",
		"file:///etc/passwd",
		"http://[::1]/",
		"http://0x7f000001/",
		"https://localhost@example.com/",
		"javascript:alert(1)",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	v := NewURL(URLConfig{})

	f.Fuzz(func(t *testing.T, rawURL string) {
		if err := v.Validate(rawURL); err != nil {
			return
		}
		lower := strings.ToLower(rawURL)
		for _, bad := range []string{"//127.0.0.1", "//localhost/", "//169.254.169.254"} {
			if strings.Contains(lower, bad) {
				t.Errorf("validator accepted dangerous URL %q", rawURL)
			}
		}
	})
}
