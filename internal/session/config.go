package session

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Config is the session-side configuration. It is distinct from the engine's
// own configuration file: these settings live in the conversion service and
// are pulled/pushed with GetConfig/SetConfig.
type Config struct {
	PreeditMethod        PreeditMethod        `toml:"preedit_method" json:"preedit_method"`
	PunctuationMethod    PunctuationMethod    `toml:"punctuation_method" json:"punctuation_method"`
	SpaceCharacterForm   SpaceCharacterForm   `toml:"space_character_form" json:"space_character_form"`
	HistoryLearningLevel HistoryLearningLevel `toml:"history_learning_level" json:"history_learning_level"`
	SelectionShortcut    SelectionShortcut    `toml:"selection_shortcut" json:"selection_shortcut"`
	SuggestionsSize      uint32               `toml:"suggestions_size" json:"suggestions_size"`
	IncognitoMode        bool                 `toml:"incognito_mode" json:"incognito_mode"`
	UseAutoIMETurnOff    bool                 `toml:"use_auto_ime_turn_off" json:"use_auto_ime_turn_off"`
	UseHistorySuggest    bool                 `toml:"use_history_suggest" json:"use_history_suggest"`
	UseDictionarySuggest bool                 `toml:"use_dictionary_suggest" json:"use_dictionary_suggest"`
	UseDateConversion    bool                 `toml:"use_date_conversion" json:"use_date_conversion"`
}

// PunctuationMethod selects the characters produced by ',' and '.'.
type PunctuationMethod int32

const (
	PunctuationKutenTouten PunctuationMethod = iota
	PunctuationCommaPeriod
	PunctuationKutenPeriod
	PunctuationCommaTouten
)

// SpaceCharacterForm selects the width of an inserted space.
type SpaceCharacterForm int32

const (
	SpaceInputMode SpaceCharacterForm = iota
	SpaceFullWidth
	SpaceHalfWidth
)

// HistoryLearningLevel controls learning from committed conversions.
type HistoryLearningLevel int32

const (
	HistoryDefault HistoryLearningLevel = iota
	HistoryReadOnly
	HistoryNone
)

// SelectionShortcut selects candidate label characters.
type SelectionShortcut int32

const (
	ShortcutNone SelectionShortcut = iota
	Shortcut123456789
	ShortcutASDFGHJKL
)

// DefaultConfig returns the configuration a fresh session starts with.
func DefaultConfig() *Config {
	return &Config{
		PreeditMethod:        PreeditRoman,
		PunctuationMethod:    PunctuationKutenTouten,
		SpaceCharacterForm:   SpaceInputMode,
		HistoryLearningLevel: HistoryDefault,
		SelectionShortcut:    Shortcut123456789,
		SuggestionsSize:      3,
		UseHistorySuggest:    true,
		UseDictionarySuggest: true,
		UseDateConversion:    true,
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return DefaultConfig()
	}
	clone := *c
	return &clone
}

// Learning reports whether committed conversions should be remembered.
func (c *Config) Learning() bool {
	return !c.IncognitoMode && c.HistoryLearningLevel == HistoryDefault
}

// Field type errors.
var (
	ErrUnknownField     = errors.New("unknown config field")
	ErrTypeMismatch     = errors.New("config value type mismatch")
	ErrUnknownEnumValue = errors.New("unknown enum value")
	ErrOutOfRange       = errors.New("config value out of range")
)

// FieldError describes why a named field could not be set.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config field %q (value %v): %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// FieldKind is the declared type of a config field.
type FieldKind int

const (
	KindEnum FieldKind = iota + 1
	KindUint32
	KindBool
)

func (k FieldKind) String() string {
	switch k {
	case KindEnum:
		return "enum"
	case KindUint32:
		return "uint32"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Field is one entry of the config schema: a name, a declared type, and a
// setter into a Config.
type Field struct {
	Name string
	Kind FieldKind
	// Enum maps value names to values for KindEnum fields.
	Enum map[string]int32

	setEnum   func(c *Config, v int32)
	setUint32 func(c *Config, v uint32)
	setBool   func(c *Config, v bool)
}

func enumField(name string, values map[string]int32, set func(*Config, int32)) *Field {
	return &Field{Name: name, Kind: KindEnum, Enum: values, setEnum: set}
}

func uint32Field(name string, set func(*Config, uint32)) *Field {
	return &Field{Name: name, Kind: KindUint32, setUint32: set}
}

func boolField(name string, set func(*Config, bool)) *Field {
	return &Field{Name: name, Kind: KindBool, setBool: set}
}

var schema = map[string]*Field{}

func register(fields ...*Field) {
	for _, f := range fields {
		schema[f.Name] = f
	}
}

func init() {
	register(
		enumField("preedit_method", map[string]int32{
			"ROMAN": int32(PreeditRoman),
			"KANA":  int32(PreeditKana),
		}, func(c *Config, v int32) { c.PreeditMethod = PreeditMethod(v) }),
		enumField("punctuation_method", map[string]int32{
			"KUTEN_TOUTEN": int32(PunctuationKutenTouten),
			"COMMA_PERIOD": int32(PunctuationCommaPeriod),
			"KUTEN_PERIOD": int32(PunctuationKutenPeriod),
			"COMMA_TOUTEN": int32(PunctuationCommaTouten),
		}, func(c *Config, v int32) { c.PunctuationMethod = PunctuationMethod(v) }),
		enumField("space_character_form", map[string]int32{
			"FUNDAMENTAL_INPUT_MODE": int32(SpaceInputMode),
			"FUNDAMENTAL_FULL_WIDTH": int32(SpaceFullWidth),
			"FUNDAMENTAL_HALF_WIDTH": int32(SpaceHalfWidth),
		}, func(c *Config, v int32) { c.SpaceCharacterForm = SpaceCharacterForm(v) }),
		enumField("history_learning_level", map[string]int32{
			"DEFAULT_HISTORY": int32(HistoryDefault),
			"READ_ONLY":       int32(HistoryReadOnly),
			"NO_HISTORY":      int32(HistoryNone),
		}, func(c *Config, v int32) { c.HistoryLearningLevel = HistoryLearningLevel(v) }),
		enumField("selection_shortcut", map[string]int32{
			"NO_SHORTCUT":        int32(ShortcutNone),
			"SHORTCUT_123456789": int32(Shortcut123456789),
			"SHORTCUT_ASDFGHJKL": int32(ShortcutASDFGHJKL),
		}, func(c *Config, v int32) { c.SelectionShortcut = SelectionShortcut(v) }),
		uint32Field("suggestions_size", func(c *Config, v uint32) { c.SuggestionsSize = v }),
		boolField("incognito_mode", func(c *Config, v bool) { c.IncognitoMode = v }),
		boolField("use_auto_ime_turn_off", func(c *Config, v bool) { c.UseAutoIMETurnOff = v }),
		boolField("use_history_suggest", func(c *Config, v bool) { c.UseHistorySuggest = v }),
		boolField("use_dictionary_suggest", func(c *Config, v bool) { c.UseDictionarySuggest = v }),
		boolField("use_date_conversion", func(c *Config, v bool) { c.UseDateConversion = v }),
	)
}

// LookupField finds a schema field by name.
func LookupField(name string) (*Field, bool) {
	f, ok := schema[name]
	return f, ok
}

// FieldNames returns all schema field names, sorted.
func FieldNames() []string {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set assigns a host-supplied value to the named field. The value's dynamic
// type must match the field's declared type: enum fields take the value name
// as a string, uint32 fields take a non-negative integer, bool fields take a
// bool. On any error the Config is left untouched.
func (c *Config) Set(name string, value any) error {
	f, ok := schema[name]
	if !ok {
		return &FieldError{Field: name, Value: value, Err: ErrUnknownField}
	}
	return f.Apply(c, value)
}

// Apply validates value against the field type and stores it in c.
func (f *Field) Apply(c *Config, value any) error {
	switch f.Kind {
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return &FieldError{Field: f.Name, Value: value, Err: fmt.Errorf("%w: want string, got %T", ErrTypeMismatch, value)}
		}
		v, ok := f.Enum[s]
		if !ok {
			return &FieldError{Field: f.Name, Value: value, Err: ErrUnknownEnumValue}
		}
		f.setEnum(c, v)
	case KindUint32:
		n, ok := asInt64(value)
		if !ok {
			return &FieldError{Field: f.Name, Value: value, Err: fmt.Errorf("%w: want integer, got %T", ErrTypeMismatch, value)}
		}
		if n < 0 || n > math.MaxUint32 {
			return &FieldError{Field: f.Name, Value: value, Err: ErrOutOfRange}
		}
		f.setUint32(c, uint32(n))
	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return &FieldError{Field: f.Name, Value: value, Err: fmt.Errorf("%w: want bool, got %T", ErrTypeMismatch, value)}
		}
		f.setBool(c, b)
	default:
		return &FieldError{Field: f.Name, Value: value, Err: ErrTypeMismatch}
	}
	return nil
}

func asInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case int16:
		return int64(v), true
	case uint16:
		return int64(v), true
	default:
		return 0, false
	}
}
