// Package seaconfig is the C6 Config Pipeline (spec §4.7): parsing the JSON
// SEA configuration, invoking the runtime's blob generator, and serializing
// the fixed-layout "SMFG" auxiliary-config record.
package seaconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/socketdev/binject/internal/collaborator"
	"github.com/socketdev/binject/internal/errs"
)

// VFS mode values, per spec §3's VFS sub-config.
const (
	VFSInMemory = "in-memory"
	VFSOnDisk   = "on-disk"
	VFSCompat   = "compat"
)

// Defaults from spec §3's Aux-Config Record paragraph.
const (
	defaultCommand        = "self-update"
	defaultIntervalMS     = 86_400_000
	defaultFakeArgvEnv    = "SMOL_FAKE_ARGV"
	defaultPromptDefault  = 'n'
)

// VFSConfig is the parsed `smol.vfs` sub-config.
type VFSConfig struct {
	Mode   string
	Source string
}

// UpdateConfig is the parsed `smol.update` sub-config.
type UpdateConfig struct {
	BinName        string
	Command        string
	URL            string
	Tag            string
	SkipEnv        string
	IntervalMS     int64
	NotifyIntervalMS int64
	Prompt         bool
	PromptDefault  byte // 'y' or 'n'
}

// Config is the fully parsed, validated, defaulted SEA configuration.
type Config struct {
	Main                           string
	Output                        string
	DisableExperimentalSEAWarning  bool
	UseCodeCache                   bool
	Assets                         map[string]string
	VFS                            *VFSConfig // nil when smol.vfs is absent or false
	Update                         UpdateConfig
	FakeArgvEnv                    string
}

// wire mirrors the raw JSON shape; main, output and smol are pointers so
// their presence can be distinguished from zero-value defaults, while the two
// bools and assets are read as plain values.
type wireConfig struct {
	Main                           *string           `json:"main"`
	Output                         *string           `json:"output"`
	DisableExperimentalSEAWarning  bool              `json:"disableExperimentalSEAWarning"`
	UseCodeCache                   bool              `json:"useCodeCache"`
	Assets                         map[string]string `json:"assets"`
	Smol                           *wireSmol         `json:"smol"`
}

type wireSmol struct {
	VFS         json.RawMessage `json:"vfs"`
	Update      *wireUpdate     `json:"update"`
	FakeArgvEnv *string         `json:"fakeArgvEnv"`
}

type wireUpdate struct {
	BinName        *string  `json:"binname"`
	Command        *string  `json:"command"`
	URL            *string  `json:"url"`
	Tag            *string  `json:"tag"`
	SkipEnv        *string  `json:"skipEnv"`
	Interval       *float64 `json:"interval"`
	NotifyInterval *float64 `json:"notifyInterval"`
	Prompt         *bool    `json:"prompt"`
	PromptDefault  *string  `json:"promptDefault"`
}

type wireVFSObject struct {
	Mode   *string `json:"mode"`
	Source *string `json:"source"`
}

// Parse implements parse_sea_config: json_bytes -> Config | Err(InvalidArg).
// Validation errors name the offending field via errs.Field, per §4.7's "do
// not truncate silently" rule.
func Parse(jsonBytes []byte) (*Config, error) {
	const op = "seaconfig.Parse"
	var w wireConfig
	if err := json.Unmarshal(jsonBytes, &w); err != nil {
		return nil, errs.Field(op, "(root)", err)
	}

	if w.Main == nil || *w.Main == "" {
		return nil, errs.Field(op, "main", fmt.Errorf("required"))
	}
	if w.Output == nil || *w.Output == "" {
		return nil, errs.Field(op, "output", fmt.Errorf("required"))
	}
	if err := requireRelativePath(*w.Output); err != nil {
		return nil, errs.Field(op, "output", err)
	}

	cfg := &Config{
		Main:                          *w.Main,
		Output:                        *w.Output,
		DisableExperimentalSEAWarning: w.DisableExperimentalSEAWarning,
		UseCodeCache:                  w.UseCodeCache,
		Assets:                        w.Assets,
		FakeArgvEnv:                   defaultFakeArgvEnv,
		Update: UpdateConfig{
			Command:          defaultCommand,
			IntervalMS:       defaultIntervalMS,
			NotifyIntervalMS: defaultIntervalMS,
			PromptDefault:    defaultPromptDefault,
		},
	}

	if w.Smol == nil {
		return cfg, nil
	}

	if len(w.Smol.VFS) > 0 && string(w.Smol.VFS) != "null" {
		vfs, err := parseVFS(w.Smol.VFS, op)
		if err != nil {
			return nil, err
		}
		cfg.VFS = vfs
	}

	if w.Smol.FakeArgvEnv != nil {
		if len(*w.Smol.FakeArgvEnv) > 63 {
			return nil, errs.Field(op, "smol.fakeArgvEnv", fmt.Errorf("exceeds 63 bytes"))
		}
		cfg.FakeArgvEnv = *w.Smol.FakeArgvEnv
	}

	if w.Smol.Update != nil {
		if err := applyUpdate(cfg, w.Smol.Update, op); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func requireRelativePath(p string) error {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("must be a relative path")
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return fmt.Errorf("must not escape its directory")
		}
	}
	return nil
}

func parseVFS(raw json.RawMessage, op string) (*VFSConfig, error) {
	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		if !asBool {
			return nil, nil
		}
		return &VFSConfig{Mode: VFSInMemory, Source: "node_modules"}, nil
	}

	var obj wireVFSObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errs.Field(op, "smol.vfs", err)
	}
	v := &VFSConfig{Mode: VFSInMemory, Source: "node_modules"}
	if obj.Mode != nil {
		switch *obj.Mode {
		case VFSInMemory, VFSOnDisk, VFSCompat:
			v.Mode = *obj.Mode
		default:
			return nil, errs.Field(op, "smol.vfs.mode", fmt.Errorf("must be one of in-memory, on-disk, compat"))
		}
	}
	if obj.Source != nil {
		v.Source = *obj.Source
	}
	return v, nil
}

func applyUpdate(cfg *Config, u *wireUpdate, op string) error {
	u2 := &cfg.Update
	if u.BinName != nil {
		if len(*u.BinName) > 127 {
			return errs.Field(op, "smol.update.binname", fmt.Errorf("exceeds 127 bytes"))
		}
		u2.BinName = *u.BinName
	}
	if u.Command != nil {
		if len(*u.Command) > 254 {
			return errs.Field(op, "smol.update.command", fmt.Errorf("exceeds 254 bytes"))
		}
		u2.Command = *u.Command
	}
	if u.URL != nil {
		if len(*u.URL) > 510 {
			return errs.Field(op, "smol.update.url", fmt.Errorf("exceeds 510 bytes"))
		}
		if *u.URL != "" && !strings.HasPrefix(*u.URL, "http://") && !strings.HasPrefix(*u.URL, "https://") {
			return errs.Field(op, "smol.update.url", fmt.Errorf("must start with http:// or https://"))
		}
		u2.URL = *u.URL
	}
	if u.Tag != nil {
		if len(*u.Tag) > 127 {
			return errs.Field(op, "smol.update.tag", fmt.Errorf("exceeds 127 bytes"))
		}
		u2.Tag = *u.Tag
	}
	if u.SkipEnv != nil {
		if len(*u.SkipEnv) > 63 {
			return errs.Field(op, "smol.update.skipEnv", fmt.Errorf("exceeds 63 bytes"))
		}
		u2.SkipEnv = *u.SkipEnv
	}
	if u.Interval != nil {
		if err := requireFiniteNonNegative(*u.Interval); err != nil {
			return errs.Field(op, "smol.update.interval", err)
		}
		u2.IntervalMS = int64(*u.Interval)
	}
	if u.NotifyInterval != nil {
		if err := requireFiniteNonNegative(*u.NotifyInterval); err != nil {
			return errs.Field(op, "smol.update.notifyInterval", err)
		}
		u2.NotifyIntervalMS = int64(*u.NotifyInterval)
	}
	if u.Prompt != nil {
		u2.Prompt = *u.Prompt
	}
	if u.PromptDefault != nil {
		b, err := normalizePromptDefault(*u.PromptDefault)
		if err != nil {
			return errs.Field(op, "smol.update.promptDefault", err)
		}
		u2.PromptDefault = b
	}
	return nil
}

func requireFiniteNonNegative(f float64) error {
	if f != f || f < 0 { // f != f catches NaN
		return fmt.Errorf("must be finite and >= 0")
	}
	if f > 1e18 || f < -1e18 {
		return fmt.Errorf("must be finite and >= 0")
	}
	return nil
}

func normalizePromptDefault(s string) (byte, error) {
	switch s {
	case "y", "Y", "yes", "Yes", "YES":
		return 'y', nil
	case "n", "N", "no", "No", "NO":
		return 'n', nil
	default:
		return 0, fmt.Errorf("must be one of y/Y/yes/Yes/YES/n/N/no/No/NO")
	}
}

// OverrideVFSMode forces smol.vfs.mode to mode within raw's JSON document,
// creating the smol/vfs objects (and a default "node_modules" source) if
// they're absent. This is how the CLI's --vfs-in-memory/--vfs-on-disk/
// --vfs-compat flags (spec §6) take effect when --sea names a JSON config:
// they patch the config the blob generator collaborator reads from disk,
// rather than needing a wire slot of their own (the VFS sub-config has none
// in the Aux-Config record, per §3).
func OverrideVFSMode(raw []byte, mode string) ([]byte, error) {
	const op = "seaconfig.OverrideVFSMode"

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errs.Field(op, "(root)", err)
	}

	var smol map[string]json.RawMessage
	if existing, ok := doc["smol"]; ok && len(existing) > 0 && string(existing) != "null" {
		if err := json.Unmarshal(existing, &smol); err != nil {
			return nil, errs.Field(op, "smol", err)
		}
	}
	if smol == nil {
		smol = map[string]json.RawMessage{}
	}

	var vfsObj map[string]json.RawMessage
	if existing, ok := smol["vfs"]; ok && len(existing) > 0 {
		switch string(existing) {
		case "null", "false", "true":
			// Shorthand forms carry no object to preserve; fall through to
			// a fresh one below.
		default:
			if err := json.Unmarshal(existing, &vfsObj); err != nil {
				return nil, errs.Field(op, "smol.vfs", err)
			}
		}
	}
	if vfsObj == nil {
		vfsObj = map[string]json.RawMessage{}
	}

	modeJSON, err := json.Marshal(mode)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArg, op, err)
	}
	vfsObj["mode"] = modeJSON
	if _, ok := vfsObj["source"]; !ok {
		srcJSON, _ := json.Marshal("node_modules")
		vfsObj["source"] = srcJSON
	}

	vfsJSON, err := json.Marshal(vfsObj)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArg, op, err)
	}
	smol["vfs"] = vfsJSON

	smolJSON, err := json.Marshal(smol)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArg, op, err)
	}
	doc["smol"] = smolJSON

	return json.Marshal(doc)
}

// GenerateBlob implements generate_sea_blob: invoke the host runtime's
// --experimental-sea-config flow via the collaborator, then read the blob
// it produced at config.Output (relative to workdir).
func GenerateBlob(ctx context.Context, cfg *Config, configPath, workdir string, collab collaborator.Set) ([]byte, error) {
	const op = "seaconfig.GenerateBlob"
	genCtx, cancel := context.WithTimeout(ctx, collaborator.BlobGenTimeout)
	defer cancel()
	blob, err := collab.GenerateBlob(genCtx, configPath, workdir)
	if err != nil {
		return nil, errs.Wrap(errs.BlobGenerationFailed, op, err)
	}
	return blob, nil
}
