// Package validation validates configuration values.
//
// Struct validates `validate` struct tags with go-playground/validator and
// reports fields by their mapstructure key. Validator collects errors for
// checks between fields.
//
//	type Still struct {
//	    Quality int `mapstructure:"quality" validate:"gte=1,lte=100"`
//	}
//	err := validation.Struct(cfg)
//
//	v := validation.New()
//	v.MultipleOf("width", cfg.Width, 2)
//	if err := v.Validate(); err != nil { ... }
package validation
