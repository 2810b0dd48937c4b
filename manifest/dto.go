package manifest

// EntryDTO is the on-disk representation of a [tempofs.Entry].
//
// In a YAML mapping manifest the key supplies Name and the value is either
// the URL string or an EntryDTO without a name.
type EntryDTO struct {
	Name    *string           `yaml:"name,omitempty" json:"name,omitempty"` // Inferred from the URL when omitted
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	UUID    *string           `yaml:"uuid,omitempty" json:"uuid,omitempty"` // Optional stable id; generated when omitted
}
