package instructions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Domain-specific errors for registry construction.
var (
	// ErrInvalidQoS is returned when an instruction declares a QoS level
	// outside 0, 1, or 2.
	ErrInvalidQoS = errors.New("instructions: qos must be 0, 1, or 2")

	// ErrInvalidInterval is returned for a negative publish interval.
	ErrInvalidInterval = errors.New("instructions: publishIntervalMS must be non-negative")

	// ErrInvalidMode is returned for an unrecognised mode value.
	ErrInvalidMode = errors.New("instructions: unrecognised mode")

	// ErrDuplicateName is returned when two instructions share a name.
	ErrDuplicateName = errors.New("instructions: duplicate instruction name")
)

// FileName is the instruction file inside the config mount directory.
const FileName = "instructions"

// Mode describes how an instruction is exposed on the north-bound surfaces.
type Mode string

const (
	ModePublisher  Mode = "publisher"
	ModeSubscriber Mode = "subscriber"
	ModeResponder  Mode = "responder"
)

// Instruction is one named capability entry with its protocol options.
type Instruction struct {
	Name string

	// Mode selects publisher (periodic MQTT publish), subscriber
	// (inbound MQTT handling), or responder (HTTP request/response).
	Mode Mode

	// Topic is the MQTT topic suffix or HTTP path for the instruction.
	// Defaults to the instruction name.
	Topic string

	// PublishInterval is the cadence of the periodic publisher. Zero
	// disables periodic publishing; only meaningful for publishers.
	PublishInterval time.Duration

	// QoS is the MQTT quality-of-service level for the instruction.
	QoS byte

	// Properties carries free-form driver properties.
	Properties map[string]string
}

// Registry is the immutable table of instructions parsed from the
// mounted configuration. Construct it once at adapter start; reloading
// requires an adapter restart.
type Registry struct {
	entries map[string]Instruction
	names   []string
}

// rawOptions mirrors the recognised option keys of one instruction.
// Unknown keys are ignored.
type rawOptions struct {
	Method            string            `yaml:"method"`
	Path              string            `yaml:"path"`
	Topic             string            `yaml:"topic"`
	Mode              string            `yaml:"mode"`
	PublishIntervalMS *int              `yaml:"publishIntervalMS"`
	QoS               *int              `yaml:"qos"`
	Properties        map[string]string `yaml:"properties"`

	// ProtocolProperties is the nested options block used by mounted
	// instruction files; its fields take precedence over flat ones.
	ProtocolProperties *rawOptions `yaml:"protocolProperties"`
}

// rawDocument allows both a bare mapping and the wrapped form with a
// top-level "instructions" key.
type rawDocument struct {
	Instructions map[string]rawOptions `yaml:"instructions"`
}

// Load reads and parses the instruction file from the config mount
// directory.
//
// Parameters:
//   - mountPath: directory holding the file named "instructions"
//
// Returns:
//   - *Registry: Parsed, validated, immutable registry
//   - error: If the file is unreadable or construction fails
func Load(mountPath string) (*Registry, error) {
	data, err := os.ReadFile(filepath.Join(mountPath, FileName))
	if err != nil {
		return nil, fmt.Errorf("reading instruction file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from YAML bytes. Parsing is pure: no file or
// network access, and the same input always yields the same registry.
//
// Duplicate instruction names fail construction (the YAML decoder
// rejects duplicate mapping keys).
func Parse(data []byte) (*Registry, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing instructions: %w", err)
	}

	raw := doc.Instructions
	if raw == nil {
		// Bare-mapping form: the whole document keys instructions.
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing instructions: %w", err)
		}
	}

	r := &Registry{entries: make(map[string]Instruction, len(raw))}
	for name, opts := range raw {
		inst, err := buildInstruction(name, opts)
		if err != nil {
			return nil, err
		}
		if _, exists := r.entries[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		r.entries[name] = inst
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)

	return r, nil
}

// buildInstruction validates one entry and applies defaults.
func buildInstruction(name string, opts rawOptions) (Instruction, error) {
	eff := opts.effective()

	mode, err := deriveMode(name, eff)
	if err != nil {
		return Instruction{}, err
	}

	topic := eff.Topic
	if topic == "" {
		topic = eff.Path
	}
	if topic == "" {
		topic = name
	}

	interval := 0
	if eff.PublishIntervalMS != nil {
		interval = *eff.PublishIntervalMS
	}
	if interval < 0 {
		return Instruction{}, fmt.Errorf("%w: %q has %d", ErrInvalidInterval, name, interval)
	}

	qos := 0
	if eff.QoS != nil {
		qos = *eff.QoS
	}
	if qos < 0 || qos > 2 {
		return Instruction{}, fmt.Errorf("%w: %q has %d", ErrInvalidQoS, name, qos)
	}

	return Instruction{
		Name:            name,
		Mode:            mode,
		Topic:           topic,
		PublishInterval: time.Duration(interval) * time.Millisecond,
		QoS:             byte(qos),
		Properties:      eff.Properties,
	}, nil
}

// effective merges the nested protocolProperties block over the flat
// option fields.
func (o rawOptions) effective() rawOptions {
	if o.ProtocolProperties == nil {
		return o
	}
	eff := o
	p := *o.ProtocolProperties
	if p.Method != "" {
		eff.Method = p.Method
	}
	if p.Path != "" {
		eff.Path = p.Path
	}
	if p.Topic != "" {
		eff.Topic = p.Topic
	}
	if p.Mode != "" {
		eff.Mode = p.Mode
	}
	if p.PublishIntervalMS != nil {
		eff.PublishIntervalMS = p.PublishIntervalMS
	}
	if p.QoS != nil {
		eff.QoS = p.QoS
	}
	if p.Properties != nil {
		eff.Properties = p.Properties
	}
	return eff
}

// deriveMode resolves the instruction mode, falling back to the method
// when no explicit mode is given. The default method is PUBLISH.
func deriveMode(name string, eff rawOptions) (Mode, error) {
	if eff.Mode != "" {
		switch Mode(strings.ToLower(eff.Mode)) {
		case ModePublisher:
			return ModePublisher, nil
		case ModeSubscriber:
			return ModeSubscriber, nil
		case ModeResponder:
			return ModeResponder, nil
		default:
			return "", fmt.Errorf("%w: %q has %q", ErrInvalidMode, name, eff.Mode)
		}
	}

	switch strings.ToUpper(eff.Method) {
	case "", "PUBLISH":
		return ModePublisher, nil
	case "SUBSCRIBE":
		return ModeSubscriber, nil
	case "REQUEST":
		return ModeResponder, nil
	default:
		return "", fmt.Errorf("%w: %q has method %q", ErrInvalidMode, name, eff.Method)
	}
}

// Get looks up an instruction by name.
func (r *Registry) Get(name string) (Instruction, bool) {
	inst, ok := r.entries[name]
	return inst, ok
}

// Names returns all instruction names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of instructions.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Publishers returns the Publisher-mode instructions in name order.
func (r *Registry) Publishers() []Instruction {
	return r.byMode(ModePublisher)
}

// Subscribers returns the Subscriber-mode instructions in name order.
func (r *Registry) Subscribers() []Instruction {
	return r.byMode(ModeSubscriber)
}

// Responders returns the Responder-mode instructions in name order.
func (r *Registry) Responders() []Instruction {
	return r.byMode(ModeResponder)
}

func (r *Registry) byMode(mode Mode) []Instruction {
	var out []Instruction
	for _, name := range r.names {
		if inst := r.entries[name]; inst.Mode == mode {
			out = append(out, inst)
		}
	}
	return out
}

// Empty returns a registry with no instructions. Used when no
// instruction file is mounted; the adapter then exposes only the fixed
// control surface.
func Empty() *Registry {
	return &Registry{entries: map[string]Instruction{}}
}
