package popchat

import (
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	uniTrans *ut.UniversalTranslator
)

// usernamePattern is the username rule the server enforces on registration.
var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{4,10}$`)

func init() {
	validate = validator.New()
	enLocale := en.New()
	uniTrans = ut.New(enLocale, enLocale)
	enTrans, _ := uniTrans.GetTranslator("en")

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, key := range []string{"json", "toml"} {
			name := strings.SplitN(field.Tag.Get(key), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return strings.ToLower(field.Name)
	})

	validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})

	translations := map[string]string{
		"required": "{0} is a required field",
		"min":      "{0} must contain at least one entry",
		"max":      "{0} is too long",
		"url":      "{0} must be a valid URL",
		"username": "{0} must start with a letter and be 5 to 11 letters or digits",
	}
	for tag, text := range translations {
		tag, text := tag, text
		validate.RegisterTranslation(tag, enTrans, func(t ut.Translator) error {
			return t.Add(tag, text, true)
		}, func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T(tag, fe.Field())
			return msg
		})
	}
}

// ValidationError reports malformed local input. Requests are never sent for
// invalid input. Fields maps the offending field to a readable message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

// Validate checks v against its validate struct tags.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	trans, _ := uniTrans.GetTranslator("en")
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		if i := strings.IndexByte(field, '['); i > 0 {
			field = field[:i]
		}
		if _, seen := fields[field]; !seen {
			fields[field] = fe.Translate(trans)
		}
	}
	return &ValidationError{Fields: fields}
}

type messageInput struct {
	Text string `validate:"required"`
}

type membersInput struct {
	Members []string `validate:"required,min=1,dive,username"`
}

type memberInput struct {
	Member string `validate:"required,username"`
}

type roomNameInput struct {
	Name string `validate:"required,max=64"`
}

type searchInput struct {
	Term string `validate:"required"`
}

type roomInput struct {
	Name    string   `validate:"required,max=64"`
	Members []string `validate:"required,min=1,dive,username"`
}

// ParseMembers splits a ';' separated member list as typed by a user,
// dropping blanks and surrounding whitespace.
func ParseMembers(input string) []string {
	var members []string
	for _, s := range strings.Split(input, ";") {
		if s = strings.TrimSpace(s); s != "" {
			members = append(members, s)
		}
	}
	return members
}
