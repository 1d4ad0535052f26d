package catalog

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/daimatz/goprobe/pkg/host"
)

// Addr is an address written in a dump as an integer or a "0x" string.
type Addr uint64

// UnmarshalYAML accepts decimal, hex, octal and binary literals.
func (a *Addr) UnmarshalYAML(n *yaml.Node) error {
	if n.Value == "" {
		*a = 0
		return nil
	}
	v, err := strconv.ParseUint(n.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: bad address %q: %w", n.Line, n.Value, err)
	}
	*a = Addr(v)
	return nil
}

// Dump is the on-disk metadata dump format.
type Dump struct {
	Assemblies []AssemblyDump `yaml:"assemblies"`
}

// AssemblyDump lists the classes of one assembly.
type AssemblyDump struct {
	Name    string      `yaml:"name"`
	Classes []ClassDump `yaml:"classes"`
}

// ClassDump describes one class.
type ClassDump struct {
	Namespace  string       `yaml:"namespace"`
	Name       string       `yaml:"name"`
	Enum       bool         `yaml:"enum"`
	ValueType  bool         `yaml:"value_type"`
	Klass      Addr         `yaml:"klass"`
	StaticData Addr         `yaml:"static_data"`
	Fields     []FieldDump  `yaml:"fields"`
	Methods    []MethodDump `yaml:"methods"`
}

// FieldDump describes one field.
type FieldDump struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Static  bool   `yaml:"static"`
	Offset  int64  `yaml:"offset"`
	Literal *int64 `yaml:"literal"`
}

// MethodDump describes one method.
type MethodDump struct {
	Name    string      `yaml:"name"`
	Params  []ParamDump `yaml:"params"`
	Returns string      `yaml:"returns"`
	Static  bool        `yaml:"static"`
	Address Addr        `yaml:"address"`
}

// ParamDump describes one parameter.
type ParamDump struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// LoadFile parses the dump at path into a new Catalog.
func LoadFile(path string, parent *Catalog) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, parent)
}

// Load parses a YAML dump into a new Catalog.
func Load(r io.Reader, parent *Catalog) (*Catalog, error) {
	var d Dump
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("catalog: parsing dump: %w", err)
	}
	c := New(parent)
	for _, asm := range d.Assemblies {
		if asm.Name == "" {
			return nil, fmt.Errorf("catalog: assembly without a name")
		}
		for _, cd := range asm.Classes {
			if cd.Name == "" {
				return nil, fmt.Errorf("catalog: assembly %s: class without a name", asm.Name)
			}
			c.Add(asm.Name, cd.descriptor())
		}
	}
	return c, nil
}

func (cd ClassDump) descriptor() *host.ClassDescriptor {
	cls := &host.ClassDescriptor{
		Namespace:   cd.Namespace,
		Name:        cd.Name,
		IsEnum:      cd.Enum,
		IsValueType: cd.ValueType || cd.Enum,
		Klass:       host.Pointer(cd.Klass),
		StaticData:  host.Pointer(cd.StaticData),
	}
	for _, fd := range cd.Fields {
		f := host.FieldDescriptor{
			Name:     fd.Name,
			TypeName: fd.Type,
			IsStatic: fd.Static || fd.Literal != nil,
			Offset:   fd.Offset,
		}
		if fd.Literal != nil {
			f.IsLiteral = true
			f.Literal = *fd.Literal
		}
		cls.Fields = append(cls.Fields, f)
	}
	for _, md := range cd.Methods {
		m := host.MethodDescriptor{
			Name:           md.Name,
			ReturnTypeName: md.Returns,
			IsStatic:       md.Static,
			Entry:          host.Pointer(md.Address),
		}
		for _, p := range md.Params {
			m.Parameters = append(m.Parameters, host.Parameter{Name: p.Name, TypeName: p.Type})
		}
		cls.Methods = append(cls.Methods, m)
	}
	return cls
}
