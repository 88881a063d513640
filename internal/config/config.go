package config

// Scenario is the top-level structure of a scenario file: an initial document
// state, the middleware chain to build, and the actions to dispatch.
type Scenario struct {
	// Name identifies the scenario in logs, metrics and reports.
	Name string `yaml:"name"`
	// SchemaVersion specifies the scenario format version (e.g., "v1.0.0").
	SchemaVersion string `yaml:"schemaVersion"`
	// InitialState seeds the document before any action is dispatched.
	InitialState map[string]interface{} `yaml:"initial_state,omitempty"`
	// Middleware lists the chain in execution order.
	Middleware []MiddlewareSpec `yaml:"middleware,omitempty"`
	// Actions are dispatched in order.
	Actions []ActionSpec `yaml:"actions"`
	// Watch lists document paths whose changes are logged while running.
	Watch []string `yaml:"watch,omitempty"`
	// Expect maps document paths to the values they must hold once the
	// scenario has settled.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
	// SettleTimeout bounds the wait for suspended chains (e.g., "5s").
	SettleTimeout string `yaml:"settle_timeout,omitempty"`

	// FilePath is the source of the scenario. Not part of the YAML.
	FilePath string `yaml:"-"`
}

// MiddlewareSpec selects a registered middleware type and configures it.
type MiddlewareSpec struct {
	// Type is the registry name, e.g. "gate" or "exec".
	Type string `yaml:"type"`
	// Params are passed unchanged to the middleware factory.
	Params map[string]interface{} `yaml:"params,omitempty"`
}

// ActionSpec describes one action. Which fields apply depends on Type.
type ActionSpec struct {
	// Type is one of the Action* constants below.
	Type string `yaml:"type"`
	// Path is the dotted document path the action targets. Unused by batch.
	Path string `yaml:"path,omitempty"`
	// Value is the payload of set and append.
	Value interface{} `yaml:"value,omitempty"`
	// By is the increment step. A pointer so that an explicit 0 differs from
	// "not given" (which means 1).
	By *float64 `yaml:"by,omitempty"`

	// Exec fields.
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	WorkingDir  string            `yaml:"working_dir,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`

	// Actions are the children of a batch.
	Actions []ActionSpec `yaml:"actions,omitempty"`
}

// Action type names accepted in scenario files.
const (
	ActionSet       = "set"
	ActionDelete    = "delete"
	ActionIncrement = "increment"
	ActionAppend    = "append"
	ActionBatch     = "batch"
	ActionExec      = "exec"
)

// DefaultSettleTimeout applies when a scenario sets no settle_timeout.
const DefaultSettleTimeout = "30s"
