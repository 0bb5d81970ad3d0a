package fileops

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/fruitsalade/tenantfs/internal/fserr"
)

// Retrieve formats.
const (
	FormatJSON = "json"
	FormatRaw  = "raw"
)

// Sort keys and orders.
const (
	SortName = "name"
	SortSize = "size"
	SortTime = "time"
	SortType = "type"

	SortAsc  = "asc"
	SortDesc = "desc"
)

// ListOptions control List and ListStream.
type ListOptions struct {
	ShowHidden       bool           `mapstructure:"show_hidden"`
	SortBy           string         `mapstructure:"sort_by" validate:"omitempty,oneof=name size time type"`
	SortOrder        string         `mapstructure:"sort_order" validate:"omitempty,oneof=asc desc"`
	Recursive        bool           `mapstructure:"recursive"`
	Flat             bool           `mapstructure:"flat"`
	MaxDepth         int            `mapstructure:"max_depth" validate:"min=-1"`
	LongFormat       bool           `mapstructure:"long_format"`
	CrossSchemaLimit int            `mapstructure:"cross_schema_limit" validate:"min=0"`
	Where            map[string]any `mapstructure:"where"`
}

// DefaultListOptions sorts by name ascending with unlimited depth.
func DefaultListOptions() ListOptions {
	return ListOptions{SortBy: SortName, SortOrder: SortAsc, MaxDepth: -1}
}

// RetrieveOptions control Retrieve.
type RetrieveOptions struct {
	Format      string `mapstructure:"format" validate:"omitempty,oneof=json raw"`
	ShowHidden  bool   `mapstructure:"show_hidden"`
	StartOffset *int64 `mapstructure:"start_offset"`
	MaxBytes    *int64 `mapstructure:"max_bytes" validate:"omitempty,min=0"`
}

// DefaultRetrieveOptions returns format=json.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{Format: FormatJSON}
}

// StoreOptions control Store.
type StoreOptions struct {
	Overwrite      bool `mapstructure:"overwrite"`
	AppendMode     bool `mapstructure:"append_mode"`
	ValidateSchema bool `mapstructure:"validate_schema"`
}

// DefaultStoreOptions returns overwrite=true, append_mode=false,
// validate_schema=true.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{Overwrite: true, ValidateSchema: true}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeListOptions decodes loosely typed options over the defaults.
func DecodeListOptions(in map[string]any) (ListOptions, error) {
	opts := DefaultListOptions()
	err := decodeOptions(in, &opts)
	return opts, err
}

// DecodeRetrieveOptions decodes loosely typed options over the defaults.
func DecodeRetrieveOptions(in map[string]any) (RetrieveOptions, error) {
	opts := DefaultRetrieveOptions()
	err := decodeOptions(in, &opts)
	return opts, err
}

// DecodeStoreOptions decodes loosely typed options over the defaults.
func DecodeStoreOptions(in map[string]any) (StoreOptions, error) {
	opts := DefaultStoreOptions()
	err := decodeOptions(in, &opts)
	return opts, err
}

func decodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       jsonStringHook,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fserr.New(fserr.RequestInvalidFormat, "", "invalid options: %v", err)
	}
	return checkOptions(out)
}

// jsonStringHook lets transports pass structured options such as where as
// JSON text.
func jsonStringHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Map {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func checkOptions(opts any) error {
	err := validate.Struct(opts)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fserr.New(fserr.RequestInvalidFormat, "", "option %s: invalid value %v", optionName(fe.StructField()), fe.Value())
	}
	return fserr.New(fserr.RequestInvalidFormat, "", "invalid options: %v", err)
}

var optionNames = map[string]string{
	"SortBy":           "sort_by",
	"SortOrder":        "sort_order",
	"MaxDepth":         "max_depth",
	"CrossSchemaLimit": "cross_schema_limit",
	"Format":           "format",
	"MaxBytes":         "max_bytes",
}

func optionName(field string) string {
	if n, ok := optionNames[field]; ok {
		return n
	}
	return field
}
