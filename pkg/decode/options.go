package decode

// Offsets are the fixed header offsets used to interpret runtime objects.
// They depend on the target runtime version and pointer width; the defaults
// match 64-bit IL2CPP.
type Offsets struct {
	ObjectHeader       int64 `yaml:"object_header"`
	ArrayLength        int64 `yaml:"array_length"`
	ArrayData          int64 `yaml:"array_data"`
	ListItems          int64 `yaml:"list_items"`
	ListSize           int64 `yaml:"list_size"`
	DictEntries        int64 `yaml:"dict_entries"`
	DictCount          int64 `yaml:"dict_count"`
	MultimapDictionary int64 `yaml:"multimap_dictionary"`
}

// DefaultOffsets returns the 64-bit IL2CPP layout.
func DefaultOffsets() Offsets {
	return Offsets{
		ObjectHeader:       0x10,
		ArrayLength:        0x18,
		ArrayData:          0x20,
		ListItems:          0x10,
		ListSize:           0x18,
		DictEntries:        0x18,
		DictCount:          0x20,
		MultimapDictionary: 0x10,
	}
}

// Limits bound the size of every decoded value.
type Limits struct {
	MaxString   int `yaml:"max_string"`
	MaxFields   int `yaml:"max_fields"`
	MaxEntries  int `yaml:"max_entries"`
	MaxDepth    int `yaml:"max_depth"`
	BytePreview int `yaml:"byte_preview"`
	// MaxLength rejects array and collection headers claiming more elements.
	MaxLength int `yaml:"max_length"`
}

// DefaultLimits returns the default decode limits.
func DefaultLimits() Limits {
	return Limits{
		MaxString:   200,
		MaxFields:   8,
		MaxEntries:  3,
		MaxDepth:    1,
		BytePreview: 20,
		MaxLength:   1 << 20,
	}
}

// nested returns the reduced budget used for values inside collections.
func (l Limits) nested() Limits {
	n := l
	n.MaxString = max(l.MaxString/4, 16)
	n.MaxFields = max(l.MaxFields/2, 1)
	n.MaxEntries = 0
	n.BytePreview = max(l.BytePreview/2, 4)
	return n
}

// FieldPolicy selects the fields shown in object previews.
type FieldPolicy struct {
	IncludeStatic         bool `yaml:"include_static"`
	HideCompilerGenerated bool `yaml:"hide_compiler_generated"`
	// Allow and Deny are keyed by class full name.
	Allow map[string][]string `yaml:"allow"`
	Deny  map[string][]string `yaml:"deny"`
}

// DefaultFieldPolicy hides statics and compiler-generated fields.
func DefaultFieldPolicy() FieldPolicy {
	return FieldPolicy{HideCompilerGenerated: true}
}

// Options configure a Decoder.
type Options struct {
	Offsets Offsets
	Limits  Limits
	Fields  FieldPolicy
}

// DefaultOptions returns the default decoder options.
func DefaultOptions() Options {
	return Options{
		Offsets: DefaultOffsets(),
		Limits:  DefaultLimits(),
		Fields:  DefaultFieldPolicy(),
	}
}
