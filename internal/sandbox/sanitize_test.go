package sandbox

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSanitizeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("sanitize is idempotent", prop.ForAll(
		func(raw string) bool {
			once := sanitize(raw)
			twice := sanitize(once)
			return once == twice
		},
		gen.OneConstOf(
			"  ./a/b.txt  ",
			"`src/index.ts`",
			"'app/page.tsx'",
			"//./etc/passwd",
			"./././a",
			"a\\b\\c",
			"",
			"   ",
			"../../etc/shadow",
		),
	))

	properties.TestingRun(t)
}

func TestSanitizeStripsQuotesAndDotSlash(t *testing.T) {
	cases := map[string]string{
		"  ./src/app.tsx  ": "src/app.tsx",
		"`components/Button.tsx`": "components/Button.tsx",
		"'lib/utils.ts'":          "lib/utils.ts",
		"a\\b\\c.txt":             "a/b/c.txt",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
