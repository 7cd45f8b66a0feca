package source

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseCookieList(t *testing.T) {
	direct := `[{"name":"auth_token","value":"a"},null,"x",{"name":"ct0","value":"b"}]`
	nested, _ := json.Marshal(`[{"name":"auth_token"},{"name":"ct0"}]`)

	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "direct array keeps objects", input: direct, want: []string{"auth_token", "ct0"}},
		{name: "nested json string", input: string(nested), want: []string{"auth_token", "ct0"}},
		{name: "empty", input: "", want: nil},
		{name: "not json", input: "not json", want: nil},
		{name: "object not array", input: `{"name":"auth_token"}`, want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CookieNames(ParseCookieList(tc.input))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseCookieListValues(t *testing.T) {
	cookies := ParseCookieList(`[{"name":"auth_token","value":"secret","domain":".x.com","secure":true}]`)
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Value != "secret" || c.Domain != ".x.com" || !c.Secure {
		t.Fatalf("unexpected cookie %+v", c)
	}
}
