package domain

import "time"

// Param declares one method parameter
type Param struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// ReturnField declares one named method output
type ReturnField struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// FanOutSpec marks a method as processing a list of records one call per record
type FanOutSpec struct {
	// InputKey is the state key holding the item list
	InputKey string `json:"input_key" yaml:"input_key"`
	// ItemFields must be present and non-empty on every item
	ItemFields []string `json:"item_fields,omitempty" yaml:"item_fields,omitempty"`
	// TolerateTotalFailure keeps the workflow running when every item fails
	TolerateTotalFailure bool `json:"tolerate_total_failure,omitempty" yaml:"tolerate_total_failure,omitempty"`
}

// Method is a declared capability method
type Method struct {
	Name    string        `json:"name" yaml:"name"`
	Params  []Param       `json:"params,omitempty" yaml:"params,omitempty"`
	Returns []ReturnField `json:"returns,omitempty" yaml:"returns,omitempty"`
	FanOut  *FanOutSpec   `json:"fan_out,omitempty" yaml:"fan_out,omitempty"`

	// Timeout overrides the read timeout for slow methods, in seconds
	Timeout float64 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ReadTimeout returns the declared read timeout override, zero when unset
func (m *Method) ReadTimeout() time.Duration {
	if m.Timeout <= 0 {
		return 0
	}
	return time.Duration(m.Timeout * float64(time.Second))
}

// CompositeDefinition backs a capability with a nested graph
type CompositeDefinition struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Method      string         `json:"method" yaml:"method"`
	Graph       Graph          `json:"graph" yaml:"graph"`
	Seed        map[string]any `json:"seed,omitempty" yaml:"seed,omitempty"`

	// OutputKey names the final-state key reported as the composite step's result
	OutputKey string `json:"output_key,omitempty" yaml:"output_key,omitempty"`
}

// Descriptor describes a capability as answered by the directory
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	URLExt      string   `json:"url_ext,omitempty"`
	Methods     []Method `json:"methods,omitempty"`

	Composite *CompositeDefinition `json:"composite,omitempty"`
}

// Address returns the invocation address, preferring the external URL
func (d *Descriptor) Address() string {
	if d.URLExt != "" {
		return d.URLExt
	}
	return d.URL
}

// IsComposite reports whether the capability is backed by a nested graph
func (d *Descriptor) IsComposite() bool {
	return d.Composite != nil
}

// FindMethod returns the declared method with the given name
func (d *Descriptor) FindMethod(name string) (*Method, bool) {
	for i := range d.Methods {
		if d.Methods[i].Name == name {
			return &d.Methods[i], true
		}
	}
	return nil, false
}

// CompositeDescriptor exposes a composite definition as a capability
func CompositeDescriptor(def *CompositeDefinition) *Descriptor {
	return &Descriptor{
		Name:        def.Name,
		Description: def.Description,
		Methods:     []Method{{Name: def.Method}},
		Composite:   def,
	}
}
