package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile parses a module definition from a YAML file.
func ParseFile(path string) (Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Module{}, fmt.Errorf("read file %s: %w", path, err)
	}

	mod, err := Parse(data)
	if err != nil {
		return Module{}, fmt.Errorf("%s: %w", path, err)
	}
	mod.Source = path

	return mod, nil
}

// Parse parses and validates a module definition from YAML bytes.
func Parse(data []byte) (Module, error) {
	var mod Module

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&mod); err != nil {
		if errors.Is(err, io.EOF) {
			return Module{}, Configf("module", "empty module definition")
		}
		return Module{}, &ConfigError{Source: "module", Problems: []string{"parse yaml: " + err.Error()}}
	}

	if err := Validate(mod); err != nil {
		return Module{}, err
	}

	return mod, nil
}

// ParseDir parses all module definitions under dir, including subdirectories.
// Files are visited in lexical order so the result is deterministic.
func ParseDir(dir string) ([]Module, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("read dir %s: not a directory", dir)
	}
	return parseFS(os.DirFS(dir), ".", dir)
}

// ParseFS parses all module definitions under root in fsys, such as an
// embedded module set.
func ParseFS(fsys fs.FS, root string) ([]Module, error) {
	return parseFS(fsys, root, "")
}

func parseFS(fsys fs.FS, root, prefix string) ([]Module, error) {
	var modules []Module

	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isModuleFile(d.Name()) {
			return nil
		}

		name := path
		if prefix != "" {
			name = filepath.Join(prefix, filepath.FromSlash(path))
		}

		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read file %s: %w", name, err)
		}

		mod, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		mod.Source = name

		modules = append(modules, mod)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return modules, nil
}

func isModuleFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// Validate validates a module definition.
func Validate(mod Module) error {
	source := mod.Name
	if mod.Source != "" {
		source = mod.Source
	}
	if source == "" {
		source = "module"
	}

	var errs []string

	if mod.Name == "" {
		errs = append(errs, "module name is required")
	} else if !isValidIdentifier(mod.Name) {
		errs = append(errs, fmt.Sprintf("module name %q is not a valid identifier", mod.Name))
	}

	if mod.Collection != "" && !isValidIdentifier(mod.Collection) {
		errs = append(errs, fmt.Sprintf("collection %q is not a valid identifier", mod.Collection))
	}

	errs = append(errs, ValidateFields(mod.Schema)...)

	if err := mod.Options.Check(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return &ConfigError{Source: source, Problems: errs}
	}

	return nil
}

// ValidateFields checks field descriptors, compiles their rules and
// returns one message per problem.
func ValidateFields(fields Fields) []string {
	var errs []string

	if len(fields) == 0 {
		return append(errs, "schema must have at least one field")
	}

	names := make(map[string]bool, len(fields))
	for _, nf := range fields {
		names[nf.Name] = true
	}

	virtuals := make(map[string]bool)
	for _, nf := range fields {
		if !isValidFieldPath(nf.Name) {
			errs = append(errs, fmt.Sprintf("field name %q is not a valid identifier", nf.Name))
		}
		if isReservedField(nf.Name) {
			errs = append(errs, fmt.Sprintf("field name %q is reserved", nf.Name))
		}

		if nf.Field == nil {
			errs = append(errs, fmt.Sprintf("field %q: null configs are not supported", nf.Name))
			continue
		}

		if err := validateField(nf.Name, *nf.Field); err != nil {
			errs = append(errs, err.Error())
		}

		if j := nf.Field.Join; j != nil {
			if err := validateJoin(nf.Name, j, names, virtuals); err != nil {
				errs = append(errs, err.Error())
			}
			virtuals[j.Virtual] = true
		}
	}

	return errs
}

// validateField validates a single field definition.
func validateField(name string, field Field) error {
	if !isValidFieldType(field.Type) {
		return fmt.Errorf("field %q: unknown type %q", name, field.Type)
	}

	if field.Rule != nil {
		if err := field.Rule.Check("field " + name); err != nil {
			return err
		}
	}

	if field.Trim && field.Type != FieldTypeString {
		return fmt.Errorf("field %q: trim requires type string", name)
	}

	return nil
}

// validateJoin validates a join spec against the entity's field names.
func validateJoin(name string, j *JoinSpec, names, virtuals map[string]bool) error {
	switch {
	case j.Virtual == "":
		return fmt.Errorf("field %q: join requires a virtual name", name)
	case !isValidIdentifier(j.Virtual):
		return fmt.Errorf("field %q: join virtual %q is not a valid identifier", name, j.Virtual)
	case names[j.Virtual] || isReservedField(j.Virtual):
		return fmt.Errorf("field %q: join virtual %q collides with a field", name, j.Virtual)
	case virtuals[j.Virtual]:
		return fmt.Errorf("field %q: join virtual %q declared twice", name, j.Virtual)
	case j.Ref == "":
		return fmt.Errorf("field %q: join requires a ref entity", name)
	}

	if j.LocalField != "" && !names[j.LocalField] {
		return fmt.Errorf("field %q: join local field %q not in schema", name, j.LocalField)
	}
	if j.ForeignField != "" && !isValidFieldPath(j.ForeignField) {
		return fmt.Errorf("field %q: join foreign field %q is not a valid identifier", name, j.ForeignField)
	}

	return j.Reply.Check("field " + name + ".join.reply")
}

// decodeStrict decodes a node rejecting unknown keys.
// yaml.Node.Decode does not inherit the decoder's KnownFields setting.
func decodeStrict(node *yaml.Node, out any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func isReservedField(name string) bool {
	return name == "_id" || name == "id" || name == "deleted"
}

// isValidIdentifier checks if a string is a valid identifier.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		if i == 0 {
			if !isLetter(c) && c != '_' {
				return false
			}
		} else {
			if !isLetter(c) && !isDigit(c) && c != '_' {
				return false
			}
		}
	}

	return true
}

// isValidFieldPath accepts dotted identifiers (e.g., "author.name").
func isValidFieldPath(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !isValidIdentifier(part) {
			return false
		}
	}
	return true
}

// IsValidFieldPath reports whether s can be used as a stored field path.
func IsValidFieldPath(s string) bool {
	return isValidFieldPath(s)
}

func isLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}

// isValidFieldType checks if a field type is valid.
func isValidFieldType(t FieldType) bool {
	switch t {
	case FieldTypeString, FieldTypeNumber, FieldTypeBoolean,
		FieldTypeDate, FieldTypeArray, FieldTypeObject:
		return true
	default:
		return false
	}
}

// IsValidIdentifier reports whether s can name a module, collection or virtual.
func IsValidIdentifier(s string) bool {
	return isValidIdentifier(s)
}
