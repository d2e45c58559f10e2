package bind

import (
	"net/http/httptest"
	"strings"
	"testing"

	perr "github.com/ginjaninja78/payment-import/internal/errors"
)

type editReq struct {
	Field string `json:"field" validate:"required,oneof=identity amount"`
	Value string `json:"value"`
}

func TestParseJSON(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
		field   string
	}{
		{"ok", `{"field":"amount","value":"10"}`, false, ""},
		{"missing field", `{"value":"10"}`, true, "field"},
		{"bad enum", `{"field":"nope"}`, true, "field"},
		{"unknown key", `{"field":"amount","extra":1}`, true, ""},
		{"trailing data", `{"field":"amount"} {}`, true, ""},
		{"empty", ``, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("PATCH", "/", strings.NewReader(tc.body))
			got, err := ParseJSON[editReq](r)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
					t.Fatalf("code = %s", perr.CodeOf(err))
				}
				if tc.field != "" {
					e, _ := perr.As(err)
					if e.Field() != tc.field {
						t.Fatalf("field = %q, want %q", e.Field(), tc.field)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Field != "amount" || got.Value != "10" {
				t.Fatalf("decoded %+v", got)
			}
		})
	}
}

func TestStructUsesYamlNames(t *testing.T) {
	type cfg struct {
		BaseURL string `yaml:"base_url" validate:"required,url"`
	}
	err := Struct(cfg{BaseURL: "not a url"})
	e, ok := perr.As(err)
	if !ok {
		t.Fatalf("expected structured error, got %v", err)
	}
	if e.Field() != "base_url" {
		t.Fatalf("field = %q, want base_url", e.Field())
	}
}
