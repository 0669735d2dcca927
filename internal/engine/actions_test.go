package engine

import (
	"reflect"
	"testing"
)

func TestExtractActions(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []Action
	}{
		{
			name: "unquoted value",
			text: "When the customer is loyal use @tag:cliente-vip in your notes.",
			want: []Action{{Kind: "tag", Value: "cliente-vip"}},
		},
		{
			name: "quoted value with field",
			text: `To book use @schedule:consulta:"Reunião 10h" right away.`,
			want: []Action{{Kind: "schedule", Field: "consulta", Value: "consulta:Reunião 10h"}},
		},
		{
			name: "bare quoted value",
			text: `@notify:"manager on duty"`,
			want: []Action{{Kind: "notify", Value: "manager on duty"}},
		},
		{
			name: "unquoted with field prefix",
			text: "@field:city:Lisboa",
			want: []Action{{Kind: "field", Field: "city", Value: "city:Lisboa"}},
		},
		{
			name: "trailing punctuation trimmed",
			text: "Finish with @stage:closing.",
			want: []Action{{Kind: "stage", Value: "closing"}},
		},
		{
			name: "unresolved template discarded",
			text: "@tag:{{segment}} and @stage:won",
			want: []Action{{Kind: "stage", Value: "won"}},
		},
		{
			name: "unknown kind ignored",
			text: "@bogus:value and email@example.com",
			want: nil,
		},
		{
			name: "multiple actions",
			text: `@stage:qualified then @transfer:"sales team"`,
			want: []Action{
				{Kind: "stage", Value: "qualified"},
				{Kind: "transfer", Value: "sales team"},
			},
		},
		{
			name: "longest kind wins",
			text: "@verify-customer:docs",
			want: []Action{{Kind: "verify-customer", Value: "docs"}},
		},
		{
			name: "missing value discarded",
			text: "@tag: nothing follows",
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractActions(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
