package relay

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// DefaultChannel is the post-message object the mobile shell installs in the
// sandbox page.
const DefaultChannel = "window.ReactNativeWebView"

// DefaultMaxFileBytes caps a single decoded multipart file.
const DefaultMaxFileBytes = 6 << 20

// CompilerConfig configures script generation.
type CompilerConfig struct {
	BaseURL      string // prefix for relative payload paths
	Namespace    string // message type prefix, "api" by default
	Channel      string // JS expression of the post-message object
	MaxFileBytes int64  // per-file cap applied in the sandbox, 0 disables
}

// DefaultCompilerConfig returns the configuration used by the mobile shell.
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		Namespace:    "api",
		Channel:      DefaultChannel,
		MaxFileBytes: DefaultMaxFileBytes,
	}
}

// Script is a compiled, injectable request.
type Script struct {
	ID        string
	Transport Transport
	Text      string
}

// Compiler turns payloads into scripts for the sandbox.
type Compiler struct {
	cfg CompilerConfig
}

var channelPattern = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*$`)

// NewCompiler creates a compiler, filling unset fields from the defaults.
func NewCompiler(cfg CompilerConfig) (*Compiler, error) {
	def := DefaultCompilerConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.MaxFileBytes < 0 {
		cfg.MaxFileBytes = 0
	}
	if !channelPattern.MatchString(cfg.Channel) {
		return nil, fmt.Errorf("invalid channel expression %q", cfg.Channel)
	}
	return &Compiler{cfg: cfg}, nil
}

// Compile renders a payload into a script. The payload must carry an id.
func (c *Compiler) Compile(p Payload) (Script, error) {
	if p.ID == "" {
		return Script{}, fmt.Errorf("compile: payload id is required")
	}
	d, err := c.Describe(p)
	if err != nil {
		return Script{}, fmt.Errorf("compile %s: %w", p.ID, err)
	}
	text, err := c.Render(d)
	if err != nil {
		return Script{}, fmt.Errorf("compile %s: %w", p.ID, err)
	}
	return Script{ID: d.ID, Transport: d.Transport, Text: text}, nil
}

// Render produces the script text for a descriptor.
func (c *Compiler) Render(d Descriptor) (string, error) {
	if d.Headers == nil {
		d.Headers = []HeaderField{}
	}
	literal, err := jsLiteral(d)
	if err != nil {
		return "", err
	}

	var body string
	switch d.Transport {
	case TransportMultipart:
		body = scriptMultipart
	case TransportGetWithBody:
		body = scriptGetWithBody
	default:
		body = scriptStandard
	}

	var sb strings.Builder
	sb.WriteString("(function (d) {\n  var channel = ")
	sb.WriteString(c.cfg.Channel)
	sb.WriteString(";\n")
	sb.WriteString(scriptPrelude)
	sb.WriteString("  try {")
	sb.WriteString(body)
	sb.WriteString("  } catch (e) {\n    fail(e, e && e.code);\n  }\n})(")
	sb.WriteString(literal)
	sb.WriteString(");\n")
	return sb.String(), nil
}

// ReadinessProbe returns the script that asks the sandbox to announce
// bridge-ready.
func (c *Compiler) ReadinessProbe() string {
	return fmt.Sprintf(scriptReadinessProbe, c.cfg.Channel)
}

// Config returns the effective configuration.
func (c *Compiler) Config() CompilerConfig {
	return c.cfg
}

var lineSeparators = strings.NewReplacer("\u2028", `\u2028`, "\u2029", `\u2029`)

func jsLiteral(v any) (string, error) {
	b, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize descriptor: %w", err)
	}
	return lineSeparators.Replace(string(b)), nil
}
