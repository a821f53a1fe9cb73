package specs

// record is the format-neutral shape of one table row before defaults are
// applied. Absent fields are nil.
type record struct {
	Kind        string
	Route       *Route
	Stack       *string
	Filters     *int
	KernelSize  *int
	Strides     *int
	Padding     *string
	Repetitions *int
	Activation  *string
	Bottleneck  *bool
	Norm        *bool
	OutputName  *string
}

// Defaults for absent fields.
const (
	DefaultStrides     = 1
	DefaultRepetitions = 1
	DefaultActivation  = "leaky"
	DefaultPadding     = PaddingSame
)

// toSpec applies defaults and returns the record as a LayerSpec.
func (r record) toSpec() (LayerSpec, error) {
	s := LayerSpec{
		Kind:        r.Kind,
		Route:       Previous(),
		Strides:     DefaultStrides,
		Padding:     DefaultPadding,
		Repetitions: DefaultRepetitions,
		Activation:  DefaultActivation,
		Norm:        true,
	}
	if r.Route != nil {
		s.Route = *r.Route
	}
	if r.Stack != nil {
		m, err := ParseStackMode(*r.Stack)
		if err != nil {
			return LayerSpec{}, fieldError("stack", err.Error())
		}
		s.Stack = m
	}
	if r.Filters != nil {
		s.Filters = *r.Filters
	}
	if r.KernelSize != nil {
		s.KernelSize = Some(*r.KernelSize)
	}
	if r.Strides != nil {
		s.Strides = *r.Strides
	}
	if r.Padding != nil {
		s.Padding = Padding(*r.Padding)
	}
	if r.Repetitions != nil {
		s.Repetitions = *r.Repetitions
	}
	if r.Activation != nil {
		s.Activation = *r.Activation
	}
	if r.Bottleneck != nil {
		s.Bottleneck = *r.Bottleneck
	}
	if r.Norm != nil {
		s.Norm = *r.Norm
	}
	if r.OutputName != nil {
		s.OutputName = Some(*r.OutputName)
	}
	return s, s.Validate()
}
