package condition

import (
	"testing"

	"github.com/gyaneshwarpardhi/cep/internal/event"
)

func headers(kv ...any) *event.Event {
	ev := event.New(nil)
	for i := 0; i < len(kv)-1; i += 2 {
		ev.Set(kv[i].(string), kv[i+1])
	}
	return ev
}

type evalCase struct {
	name    string
	expr    string
	ev      *event.Event
	want    bool
	wantErr bool
}

func TestEvaluateExpression(t *testing.T) {
	cases := []evalCase{
		// Numeric comparisons
		{
			name: "gt true",
			expr: "amount > 1000",
			ev:   headers("amount", float64(1500)),
			want: true,
		},
		{
			name: "gt false",
			expr: "amount > 1000",
			ev:   headers("amount", float64(500)),
			want: false,
		},
		{
			name: "gte equal",
			expr: "amount >= 1000",
			ev:   headers("amount", float64(1000)),
			want: true,
		},
		{
			name: "lt negative literal",
			expr: "delta < -5",
			ev:   headers("delta", -10),
			want: true,
		},
		{
			name: "numeric string header",
			expr: "code >= 500",
			ev:   headers("code", "503"),
			want: true,
		},
		// String equality
		{
			name: "eq string true",
			expr: `host == "abcd"`,
			ev:   headers("host", "abcd"),
			want: true,
		},
		{
			name: "eq string false",
			expr: `host == "abcd"`,
			ev:   headers("host", "efgh"),
			want: false,
		},
		{
			name: "neq string",
			expr: `host != "abcd"`,
			ev:   headers("host", "efgh"),
			want: true,
		},
		{
			name: "word operator",
			expr: `host equals 'abcd'`,
			ev:   headers("host", "abcd"),
			want: true,
		},
		// Boolean
		{
			name: "bool eq true",
			expr: "is_first_login == true",
			ev:   headers("is_first_login", true),
			want: true,
		},
		{
			name: "bool eq false literal",
			expr: "is_first_login == false",
			ev:   headers("is_first_login", true),
			want: false,
		},
		// AND / OR
		{
			name: "AND both true",
			expr: `host == "abcd" AND code > 500`,
			ev:   headers("host", "abcd", "code", float64(503)),
			want: true,
		},
		{
			name: "AND first false",
			expr: `host == "abcd" AND code > 500`,
			ev:   headers("host", "efgh", "code", float64(503)),
			want: false,
		},
		{
			name: "OR first true",
			expr: `host == "abcd" OR code > 500`,
			ev:   headers("host", "abcd", "code", float64(200)),
			want: true,
		},
		{
			name: "OR both false",
			expr: `host == "abcd" OR code > 500`,
			ev:   headers("host", "efgh", "code", float64(200)),
			want: false,
		},
		{
			name: "parentheses",
			expr: `(host == "a" OR host == "b") AND code > 500`,
			ev:   headers("host", "b", "code", float64(501)),
			want: true,
		},
		// NOT
		{
			name: "NOT true",
			expr: `NOT amount > 1000`,
			ev:   headers("amount", float64(500)),
			want: true,
		},
		// contains
		{
			name: "contains true",
			expr: `tags contains "vip"`,
			ev:   headers("tags", "vip-member"),
			want: true,
		},
		{
			name: "contains list",
			expr: `tags contains "vip"`,
			ev:   headers("tags", []any{"regular", "vip"}),
			want: true,
		},
		{
			name: "contains false",
			expr: `tags contains "vip"`,
			ev:   headers("tags", "regular"),
			want: false,
		},
		// matches (regex)
		{
			name: "matches true",
			expr: `email matches ".*@example\\.com"`,
			ev:   headers("email", "user@example.com"),
			want: true,
		},
		{
			name: "matches false",
			expr: `email matches ".*@example\\.com"`,
			ev:   headers("email", "user@other.com"),
			want: false,
		},
		// Nested header
		{
			name: "nested header path",
			expr: `geo.city == "Pune"`,
			ev:   headers("geo", map[string]any{"city": "Pune"}),
			want: true,
		},
		// Missing header is a non-match, not an error
		{
			name: "missing header",
			expr: "missing > 10",
			ev:   headers("amount", float64(100)),
			want: false,
		},
		// Error cases
		{
			name:    "ordering a non-number",
			expr:    "host > 10",
			ev:      headers("host", "abcd"),
			wantErr: true,
		},
	}

	ev := NewEvaluator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cond, err := Parse(tc.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tc.expr, err)
			}
			got, err := ev.Evaluate(cond, tc.ev)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil (result=%v)", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestParse_Flattens(t *testing.T) {
	cond, err := Parse(`a == 1 AND b == 2 AND c == 3`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	c, ok := cond.(*Composite)
	if !ok || c.Logic != LogicAnd {
		t.Fatalf("expected and-composite, got %T %v", cond, cond)
	}
	if len(c.Conditions) != 3 {
		t.Errorf("expected 3 flattened children, got %d", len(c.Conditions))
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		`"unterminated`,
		`amount 1000`, // missing operator
		``,            // empty
		`10 > amount`, // literal on the left
		`amount > other`,
		`(a == 1`,
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			if err == nil {
				t.Errorf("expected parse error for %q, got nil", expr)
			}
		})
	}
}
