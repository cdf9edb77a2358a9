// Package orchestrator dispatches the four top-level operations (inject,
// list, extract, verify) across the format detector, resource codec, format
// engines, signature manager, stub bridge, and config pipeline, per spec
// §4.1's contracts and §5's strict step ordering.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/socketdev/binject/internal/codesign"
	"github.com/socketdev/binject/internal/collaborator"
	"github.com/socketdev/binject/internal/engine"
	"github.com/socketdev/binject/internal/elf"
	"github.com/socketdev/binject/internal/errs"
	"github.com/socketdev/binject/internal/format"
	"github.com/socketdev/binject/internal/macho"
	"github.com/socketdev/binject/internal/pe"
	"github.com/socketdev/binject/internal/resource"
	"github.com/socketdev/binject/internal/scratch"
	"github.com/socketdev/binject/internal/seaconfig"
	"github.com/socketdev/binject/internal/stub"
	"github.com/socketdev/binject/internal/telemetry"
)

// engineFor dispatches on detected format, per §9's tagged-variant note: one
// function per Format rather than a class hierarchy.
func engineFor(f format.Format) (engine.Engine, error) {
	switch f {
	case format.MachO, format.Fat:
		return macho.Engine{}, nil
	case format.ELF:
		return elf.Engine{}, nil
	case format.PE:
		return pe.Engine{}, nil
	default:
		return nil, errs.New(errs.UnsupportedFormat, "orchestrator.engineFor")
	}
}

// Orchestrator holds the collaborators and I/O roots the four operations
// share. It carries no state across invocations (spec §5: "no shared
// resources across invocations").
type Orchestrator struct {
	Collaborator collaborator.Set
	TempRoot     string // root temp dir for scoped acquisitions; "" means os.TempDir()
	Log          *logrus.Logger
}

// New builds an Orchestrator with a default logger.
func New(collab collaborator.Set) *Orchestrator {
	return &Orchestrator{Collaborator: collab, Log: telemetry.New()}
}

func (o *Orchestrator) tempRoot() string {
	if o.TempRoot != "" {
		return o.TempRoot
	}
	return os.TempDir()
}

// InjectRequest carries the `inject` operation's parameters (spec §4.1).
type InjectRequest struct {
	Input          string
	Output         string
	SEAPath        string // path to a raw payload file or a SEA JSON config
	VFSPath        string
	VFSMode        string // seaconfig.VFSInMemory/OnDisk/Compat; "" keeps the config's own choice
	SkipRepack     bool
	UpdateConfig   string // deprecated, spec §9's resolved open question: accepted, ignored, warned
}

// Inject implements the `inject` operation end to end, including the
// recursive Stub Bridge detour when the input is a compressed stub.
func (o *Orchestrator) Inject(ctx context.Context, req InjectRequest) (err error) {
	const op = "orchestrator.Inject"

	if req.SEAPath == "" && req.VFSPath == "" {
		return errs.Field(op, "sea", fmt.Errorf("at least one of --sea or --vfs is required"))
	}
	if req.VFSPath != "" && req.SEAPath == "" {
		return errs.Field(op, "vfs", fmt.Errorf("--vfs requires --sea to also be given"))
	}
	if req.UpdateConfig != "" {
		o.Log.Warn("--update-config is deprecated and ignored; use the SEA config's smol.update section instead")
	}

	scope, err := scratch.Acquire(o.tempRoot(), "inject")
	if err != nil {
		return errs.Wrap(errs.CollaboratorError, op, err)
	}
	defer scope.Close()

	bin, err := engine.Load(req.Input)
	if err != nil {
		return err
	}
	f := format.Detect(bin.Data)
	if f == format.Unknown {
		return errs.New(errs.UnsupportedFormat, op)
	}
	eng, err := engineFor(f)
	if err != nil {
		return err
	}
	if err := bin.Verify(eng); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			engine.DeletePartial(req.Output)
		}
	}()

	out, err := o.injectBytes(ctx, bin.Data, req, scope)
	if err != nil {
		return err
	}

	if err := engine.WriteAtomic(req.Output, out, 0o755); err != nil {
		return err
	}

	if f := format.Detect(out); f == format.MachO {
		if err := codesign.ResignAfterMutation(ctx, f, req.Output, o.Collaborator); err != nil {
			engine.DeletePartial(req.Output)
			return err
		}
	}
	return nil
}

// injectBytes runs the detect->unwrap?->encode->engine ordering over an
// in-memory buffer and returns the mutated bytes, without touching the
// filesystem at the output path (so it can recurse into a stub's inner
// executable).
func (o *Orchestrator) injectBytes(ctx context.Context, data []byte, req InjectRequest, scope *scratch.Scope) ([]byte, error) {
	const op = "orchestrator.injectBytes"

	telemetry.Step(o.Log, op, "detect", nil)
	f := format.Detect(data)
	if f == format.Unknown {
		return nil, errs.New(errs.UnsupportedFormat, op)
	}

	eng, err := engineFor(f)
	if err != nil {
		return nil, err
	}

	if !req.SkipRepack {
		if _, _, err := eng.Find(data, resource.SMOLCompressed); err == nil {
			return o.bridgeStub(ctx, data, f, eng, req, scope)
		}
	}

	sea, vfs, err := o.resolveResources(ctx, req, scope)
	if err != nil {
		return nil, err
	}

	mutated := data
	if f == format.MachO {
		telemetry.Step(o.Log, op, "resign:strip", nil)
		stripped, _, err := codesign.StripBeforeMutation(mutated, f)
		if err != nil {
			return nil, err
		}
		mutated = stripped
	}

	telemetry.Step(o.Log, op, "engine", nil)
	if sea != nil {
		telemetry.Step(o.Log, op, "engine:sea", nil)
		mutated, err = applyToEngine(f, mutated, resource.SEA, sea)
		if err != nil {
			return nil, err
		}
	}
	if vfs != nil {
		telemetry.Step(o.Log, op, "engine:vfs", nil)
		mutated, err = applyToEngine(f, mutated, resource.VFS, vfs)
		if err != nil {
			return nil, err
		}
	}

	return mutated, nil
}

// applyToEngine re-dispatches to the right engine for f, since the engine
// value captured before a stub detour may differ from the engine for a
// freshly-unwrapped inner binary's own format. payload is the raw resource
// bytes; engines encode it themselves (C2) before writing their container.
func applyToEngine(f format.Format, data []byte, kind resource.Kind, payload []byte) ([]byte, error) {
	eng, err := engineFor(f)
	if err != nil {
		return nil, err
	}
	return eng.InsertOrReplace(data, kind, payload)
}

// resolveResources reads --sea/--vfs inputs, generating a SEA blob via C6
// when --sea names a JSON config rather than a raw payload file.
func (o *Orchestrator) resolveResources(ctx context.Context, req InjectRequest, scope *scratch.Scope) (sea, vfs []byte, err error) {
	const op = "orchestrator.resolveResources"

	if req.SEAPath != "" {
		raw, err := os.ReadFile(req.SEAPath)
		if err != nil {
			return nil, nil, errs.Wrap(errs.FileNotFound, op, err)
		}
		if looksLikeSEAConfig(req.SEAPath, raw) {
			configPath := req.SEAPath
			if req.VFSMode != "" {
				overridden, err := seaconfig.OverrideVFSMode(raw, req.VFSMode)
				if err != nil {
					return nil, nil, err
				}
				raw = overridden
				configPath, err = scope.WriteFile("sea-config-override.json", overridden, 0o644)
				if err != nil {
					return nil, nil, errs.Wrap(errs.CollaboratorError, op, err)
				}
			}
			cfg, err := seaconfig.Parse(raw)
			if err != nil {
				return nil, nil, err
			}
			workdir := filepath.Dir(req.SEAPath)
			blob, err := seaconfig.GenerateBlob(ctx, cfg, configPath, workdir, o.Collaborator)
			if err != nil {
				return nil, nil, err
			}
			sea = blob
		} else {
			sea = raw
		}
	}

	if req.VFSPath != "" {
		raw, err := os.ReadFile(req.VFSPath)
		if err != nil {
			return nil, nil, errs.Wrap(errs.FileNotFound, op, err)
		}
		vfs = raw
	}

	return sea, vfs, nil
}

// looksLikeSEAConfig implements spec §4.1's detection rule: a `.json`
// extension or content beginning with an ASCII `{`.
func looksLikeSEAConfig(path string, raw []byte) bool {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return true
	}
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	return strings.HasPrefix(trimmed, "{")
}

// bridgeStub implements C5's five-step dance (spec §4.6): unwrap, recurse,
// re-wrap, replace, resign.
func (o *Orchestrator) bridgeStub(ctx context.Context, data []byte, f format.Format, eng engine.Engine, req InjectRequest, scope *scratch.Scope) ([]byte, error) {
	const op = "orchestrator.bridgeStub"
	telemetry.Step(o.Log, op, "unwrap", nil)

	rec, _, err := eng.Find(data, resource.SMOLCompressed)
	if err != nil {
		return nil, err
	}

	inner, header, err := stub.Unwrap(ctx, rec.Payload, scope, o.Collaborator)
	if err != nil {
		return nil, err
	}

	innerReq := req
	mutatedInner, err := o.injectBytes(ctx, inner, innerReq, scope)
	if err != nil {
		return nil, err
	}

	telemetry.Step(o.Log, op, "rewrap", nil)
	newPayload, err := stub.Rewrap(ctx, mutatedInner, header, req.Input, scope, o.Collaborator)
	if err != nil {
		return nil, err
	}

	return eng.InsertOrReplace(data, resource.SMOLCompressed, newPayload)
}

// List implements the `list` operation: read-only, reports every injected
// kind with container name, file offset, payload length, and checksum.
func (o *Orchestrator) List(input string) ([]engine.Summary, error) {
	const op = "orchestrator.List"
	bin, err := engine.Load(input)
	if err != nil {
		return nil, err
	}
	f := format.Detect(bin.Data)
	if f == format.Unknown {
		return nil, errs.New(errs.UnsupportedFormat, op)
	}
	eng, err := engineFor(f)
	if err != nil {
		return nil, err
	}
	return eng.List(bin.Data)
}

// Extract implements the `extract` operation. Only SEA and VFS are valid
// kinds (spec §9's resolved open question: SMOL_COMPRESSED/aux-config are
// not extractable).
func (o *Orchestrator) Extract(input, output string, kind resource.Kind) (err error) {
	const op = "orchestrator.Extract"
	if kind != resource.SEA && kind != resource.VFS {
		return errs.Field(op, "kind", fmt.Errorf("extract only supports sea or vfs"))
	}

	bin, err := engine.Load(input)
	if err != nil {
		return err
	}
	f := format.Detect(bin.Data)
	if f == format.Unknown {
		return errs.New(errs.UnsupportedFormat, op)
	}
	eng, err := engineFor(f)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			engine.DeletePartial(output)
		}
	}()

	payload, err := eng.Extract(bin.Data, kind)
	if err != nil {
		return err
	}
	if err := engine.WriteAtomic(output, payload, 0o644); err != nil {
		return err
	}
	return nil
}

// Verify implements the `verify` operation: same lookup as Extract, but
// writes nothing.
func (o *Orchestrator) Verify(input string, kind resource.Kind) error {
	const op = "orchestrator.Verify"
	if kind != resource.SEA && kind != resource.VFS {
		return errs.Field(op, "kind", fmt.Errorf("verify only supports sea or vfs"))
	}
	bin, err := engine.Load(input)
	if err != nil {
		return err
	}
	f := format.Detect(bin.Data)
	if f == format.Unknown {
		return errs.New(errs.UnsupportedFormat, op)
	}
	eng, err := engineFor(f)
	if err != nil {
		return err
	}
	_, _, err = eng.Find(bin.Data, kind)
	return err
}
