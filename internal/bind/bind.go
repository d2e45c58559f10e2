// Package bind provides struct validation and JSON binding helpers shared by
// the configuration loader and the HTTP handlers
package bind

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	perr "github.com/ginjaninja78/payment-import/internal/errors"

	json "github.com/goccy/go-json"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// ValidatorSvc holds a singleton validator and translator
type ValidatorSvc struct {
	Validator  *validator.Validate
	Translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *ValidatorSvc
)

// Get returns the validator singleton, initializing on first use.
// Messages name fields by their json tag, falling back to the yaml tag.
func Get() *ValidatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"json", "yaml"} {
				tag := fld.Tag.Get(key)
				if idx := strings.Index(tag, ","); idx >= 0 {
					tag = tag[:idx]
				}
				if tag != "" && tag != "-" {
					return tag
				}
			}
			return fld.Name
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		vSvc = &ValidatorSvc{Validator: v, Translator: trans}
	})
	return vSvc
}

// Struct validates v and returns the first failure as an InvalidArgument
// error carrying the offending field's namespace.
func Struct(v any) error {
	svc := Get()
	err := svc.Validator.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		return perr.WithField(perr.InvalidArgf("%s", fe.Translate(svc.Translator)), ns)
	}
	return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "validation failed")
}

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// ParseJSON decodes a JSON body into T, rejecting unknown fields and trailing
// data, then validates it.
func ParseJSON[T any](r *http.Request) (T, error) {
	var zero T
	if r.Body == nil {
		return zero, perr.InvalidArgf("request body is required")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return zero, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "failed to read body")
	}
	if len(body) > maxBodyBytes {
		return zero, perr.InvalidArgf("request body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return zero, perr.InvalidArgf("request body is required")
	}

	var out T
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return zero, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "malformed JSON")
	}
	if dec.More() {
		return zero, perr.InvalidArgf("unexpected data after JSON body")
	}
	if err := Struct(out); err != nil {
		return zero, err
	}
	return out, nil
}
