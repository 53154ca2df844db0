package policy

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/rowguard/rowguard"
)

// TableConfig is the declarative per-table configuration.
type TableConfig struct {
	// Policies enforced on the table.
	Policies []Definition `json:"policies" yaml:"policies"`
	// DefaultDeny rejects operations no allow policy matched. Defaults to
	// true; set AllowByDefault to invert.
	AllowByDefault bool `json:"allow_by_default,omitempty" yaml:"allow_by_default,omitempty"`
	// SkipFor lists roles exempt from all enforcement on this table.
	SkipFor []string `json:"skip_for,omitempty" yaml:"skip_for,omitempty"`
	// Columns is the closed enumeration of columns filter policies may
	// reference. Empty leaves the column set open (not recommended).
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Schema maps table name to its configuration.
type Schema map[string]TableConfig

// DecodeSchema decodes a generic map (e.g. parsed YAML/JSON) into a Schema.
// Conditions cannot be expressed generically except as expr sources, so
// decoded policies are expr-based. The result still goes through Compile for
// full validation.
func DecodeSchema(raw map[string]any) (Schema, error) {
	var schema Schema

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &schema,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, &rowguard.SchemaInvalidError{Detail: err.Error()}
	}

	return schema, nil
}
