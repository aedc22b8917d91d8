// Package validator is the Data Validator / Transformer (spec §4.4): it
// trims and canonicalizes incoming field values, validates format, drops
// unsalvageable optional fields, and auto-repairs missing names and emails
// according to a per-entity-type rule set, grounded on the teacher's
// go-playground/validator/v10 usage in
// internal/infrastructure/webhook/validator.go.
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
)

// Repair describes one field the validator changed from its original value.
type Repair struct {
	Field string `json:"field"`
	Kind  string `json:"kind"` // "trimmed", "defaulted", "synthesized", "dropped"
}

// FieldError is a field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of validating and repairing one record (spec §4.4:
// `{valid, payload, repairs, errors}`).
type Result struct {
	Valid   bool
	Payload map[string]any
	Repairs []Repair
	Errors  []FieldError
}

// FieldRule is one {field, required?, normalize?, repair?, duplicate_key?}
// descriptor from spec §4.4.
type FieldRule struct {
	Field        string
	Required     bool
	Format       string // "", "email", "phone"
	DuplicateKey bool
}

// EntityRules is the ordered rule set for one entity type.
type EntityRules []FieldRule

// Config controls auto-repair behavior.
type Config struct {
	// EmailDomain is appended to synthesized emails: "firstname.lastname@<EmailDomain>".
	EmailDomain string
	// Rules maps each entity type onto its ordered field descriptors.
	Rules map[domain.EntityType]EntityRules
}

var phoneRe = regexp.MustCompile(`^\+?[0-9().\-\s]{7,20}$`)

// Validator validates and repairs records per spec §4.4.
type Validator struct {
	cfg Config
	v   *validator.Validate
}

// New builds a Validator from cfg.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// Validate trims, normalizes, validates, and auto-repairs payload per
// entityType's rules, returning a deterministic Result: the same input and
// configuration always produce the same payload and the same repairs list,
// sorted by field name.
func (val *Validator) Validate(entityType domain.EntityType, payload map[string]any) Result {
	rules, ok := val.cfg.Rules[entityType]
	if !ok {
		return Result{Valid: true, Payload: payload}
	}

	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}

	var repairs []Repair
	var errs []FieldError

	for _, rule := range rules {
		raw, present := out[rule.Field]
		str, isString := raw.(string)

		if present && isString {
			trimmed := strings.TrimSpace(str)
			if trimmed == "" {
				delete(out, rule.Field)
				present = false
			} else if trimmed != str {
				out[rule.Field] = trimmed
				repairs = append(repairs, Repair{Field: rule.Field, Kind: "trimmed"})
				str = trimmed
			}
		}
		if raw == nil {
			delete(out, rule.Field)
			present = false
		}

		switch rule.Format {
		case "email":
			if present && isString && !isValidEmail(val.v, str) {
				delete(out, rule.Field)
				present = false
				repairs = append(repairs, Repair{Field: rule.Field, Kind: "dropped"})
			}
		case "phone":
			if present && isString && !phoneRe.MatchString(str) {
				delete(out, rule.Field)
				present = false
				repairs = append(repairs, Repair{Field: rule.Field, Kind: "dropped"})
			}
		}

		if rule.Required && !present {
			errs = append(errs, FieldError{Field: rule.Field, Message: fmt.Sprintf("%s is required", rule.Field)})
		}
	}

	val.autoRepairNames(out, &repairs)
	val.autoRepairEmail(out, &repairs)

	// required-field recheck: auto-repair may have filled first_name/last_name,
	// which satisfies a required rule that failed above.
	errs = recheckRequired(rules, out, errs)

	sort.Slice(repairs, func(i, j int) bool { return repairs[i].Field < repairs[j].Field })
	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })

	return Result{
		Valid:   len(errs) == 0,
		Payload: out,
		Repairs: repairs,
		Errors:  errs,
	}
}

func recheckRequired(rules EntityRules, out map[string]any, errs []FieldError) []FieldError {
	stillMissing := func(field string) bool {
		for _, e := range errs {
			if e.Field != field {
				continue
			}
			_, present := out[field]
			return !present
		}
		return false
	}
	filtered := errs[:0]
	for _, e := range errs {
		if !stillMissing(e.Field) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// autoRepairNames defaults missing first_name/last_name to "Unknown" (spec
// §4.4), recorded as a "defaulted" repair.
func (val *Validator) autoRepairNames(out map[string]any, repairs *[]Repair) {
	for _, field := range []string{"first_name", "last_name"} {
		if _, ok := out[field]; !ok {
			out[field] = "Unknown"
			*repairs = append(*repairs, Repair{Field: field, Kind: "defaulted"})
		}
	}
}

// autoRepairEmail synthesizes a missing email from first_name/last_name
// once both are present, per spec §4.4.
func (val *Validator) autoRepairEmail(out map[string]any, repairs *[]Repair) {
	if _, ok := out["email"]; ok {
		return
	}
	if val.cfg.EmailDomain == "" {
		return
	}
	first, _ := out["first_name"].(string)
	last, _ := out["last_name"].(string)
	if first == "" || last == "" {
		return
	}
	synthesized := fmt.Sprintf("%s.%s@%s", strings.ToLower(first), strings.ToLower(last), val.cfg.EmailDomain)
	out["email"] = synthesized
	*repairs = append(*repairs, Repair{Field: "email", Kind: "synthesized"})
}

func isValidEmail(v *validator.Validate, s string) bool {
	return v.Var(s, "email") == nil
}
