// Package validate wraps go-playground/validator with english messages and project error codes
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Svc holds the validator and its translator
type Svc struct {
	Validator  *validator.Validate
	Translator ut.Translator
}

var (
	once sync.Once
	svc  *Svc

	connectorRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)
)

// Get returns the process validator, building it on first use
func Get() *Svc {
	once.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// messages use the flag/env name when a struct carries one
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"flag", "json"} {
				name := fld.Tag.Get(tag)
				if i := strings.Index(name, ","); i >= 0 {
					name = name[:i]
				}
				if name != "" && name != "-" {
					return name
				}
			}
			return fld.Name
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("connector", func(fl validator.FieldLevel) bool {
			return connectorRe.MatchString(fl.Field().String())
		})
		short(v, trans, "connector", "{0} must be a lowercase connector name")
		short(v, trans, "min", "{0} must be at least {1}")
		short(v, trans, "max", "{0} must be at most {1}")

		svc = &Svc{Validator: v, Translator: trans}
	})
	return svc
}

// Struct validates s and returns a Validation error carrying the first translated message
func Struct(s any) error {
	err := Get().Validator.Struct(s)
	if err == nil {
		return nil
	}
	var inv *validator.InvalidValidationError
	if errors.As(err, &inv) {
		return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "validator misuse")
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return perr.New(perr.ErrorCodeValidation, verrs[0].Translate(Get().Translator))
	}
	return perr.Wrap(err, perr.ErrorCodeValidation, "invalid")
}

func short(v *validator.Validate, trans ut.Translator, tag, msg string) {
	_ = v.RegisterTranslation(tag, trans,
		func(u ut.Translator) error { return u.Add(tag, msg, true) },
		func(u ut.Translator, fe validator.FieldError) string {
			out, _ := u.T(tag, fe.Field(), fe.Param())
			return out
		},
	)
}
