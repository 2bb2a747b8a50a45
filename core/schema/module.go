package schema

// Module is one resource definition, usually loaded from a YAML file.
type Module struct {
	// Name is the entity name (e.g., "Game", "Session").
	Name string `yaml:"module"`

	// Collection is the route base and store collection name.
	// Derived from Name by convention when empty.
	Collection string `yaml:"collection,omitempty"`

	// Singular is the singular route name used in messages.
	// Derived from Name by convention when empty.
	Singular string `yaml:"singular,omitempty"`

	// Version of the module definition.
	Version string `yaml:"version,omitempty"`

	// Description for documentation.
	Description string `yaml:"description,omitempty"`

	// Schema holds the field descriptors in declaration order.
	Schema Fields `yaml:"schema"`

	// Options holds static overrides of the generated resource.
	Options Options `yaml:"options,omitempty"`

	// Source is the file the module was parsed from, if any.
	Source string `yaml:"-"`
}
