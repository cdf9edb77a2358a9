package seaconfig

import (
	"strings"
	"testing"

	"github.com/socketdev/binject/internal/errs"
)

func TestParseRequiresMainAndOutput(t *testing.T) {
	_, err := Parse([]byte(`{}`))
	if !errs.Is(err, errs.InvalidArg) {
		t.Fatalf("expected InvalidArg, got %v", err)
	}
}

func TestParseRejectsAbsoluteOutput(t *testing.T) {
	_, err := Parse([]byte(`{"main":"a.js","output":"/tmp/out.blob"}`))
	if err == nil {
		t.Fatalf("expected error for absolute output path")
	}
}

func TestParseRejectsEscapingOutput(t *testing.T) {
	_, err := Parse([]byte(`{"main":"a.js","output":"../out.blob"}`))
	if err == nil {
		t.Fatalf("expected error for path escaping output dir")
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"main":"a.js","output":"out.blob"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Update.Command != defaultCommand {
		t.Fatalf("expected default command, got %q", cfg.Update.Command)
	}
	if cfg.Update.IntervalMS != defaultIntervalMS || cfg.Update.NotifyIntervalMS != defaultIntervalMS {
		t.Fatalf("expected default intervals")
	}
	if cfg.Update.PromptDefault != 'n' {
		t.Fatalf("expected default promptDefault 'n', got %q", cfg.Update.PromptDefault)
	}
	if cfg.FakeArgvEnv != defaultFakeArgvEnv {
		t.Fatalf("expected default fakeArgvEnv, got %q", cfg.FakeArgvEnv)
	}
	if cfg.VFS != nil {
		t.Fatalf("expected nil VFS when smol absent")
	}
}

func TestParseVFSShorthandTrue(t *testing.T) {
	cfg, err := Parse([]byte(`{"main":"a.js","output":"out.blob","smol":{"vfs":true}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.VFS == nil || cfg.VFS.Mode != VFSInMemory {
		t.Fatalf("expected in-memory VFS, got %+v", cfg.VFS)
	}
}

func TestParseVFSShorthandFalse(t *testing.T) {
	cfg, err := Parse([]byte(`{"main":"a.js","output":"out.blob","smol":{"vfs":false}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.VFS != nil {
		t.Fatalf("expected nil VFS for vfs:false")
	}
}

func TestParseVFSExplicitObject(t *testing.T) {
	cfg, err := Parse([]byte(`{"main":"a.js","output":"out.blob","smol":{"vfs":{"mode":"on-disk","source":"assets"}}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.VFS == nil || cfg.VFS.Mode != VFSOnDisk || cfg.VFS.Source != "assets" {
		t.Fatalf("unexpected VFS config: %+v", cfg.VFS)
	}
}

func TestParseUpdateFieldLimitsAndURLScheme(t *testing.T) {
	_, err := Parse([]byte(`{"main":"a.js","output":"out.blob","smol":{"update":{"url":"ftp://example.com"}}}`))
	if err == nil {
		t.Fatalf("expected URL scheme validation error")
	}

	longBin := strings.Repeat("a", 128)
	_, err = Parse([]byte(`{"main":"a.js","output":"out.blob","smol":{"update":{"binname":"` + longBin + `"}}}`))
	if err == nil {
		t.Fatalf("expected binname overflow error")
	}
}

func TestParsePromptDefaultNormalization(t *testing.T) {
	cfg, err := Parse([]byte(`{"main":"a.js","output":"out.blob","smol":{"update":{"promptDefault":"Yes"}}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Update.PromptDefault != 'y' {
		t.Fatalf("expected normalized 'y', got %q", cfg.Update.PromptDefault)
	}
}

func TestParseIntervalRejectsNegative(t *testing.T) {
	_, err := Parse([]byte(`{"main":"a.js","output":"out.blob","smol":{"update":{"interval":-5}}}`))
	if err == nil {
		t.Fatalf("expected error for negative interval")
	}
}

func TestSerializeAuxConfigSizeAndMagic(t *testing.T) {
	cfg, err := Parse([]byte(`{"main":"a.js","output":"out.blob"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	buf, err := SerializeAuxConfig(cfg)
	if err != nil {
		t.Fatalf("SerializeAuxConfig: %v", err)
	}
	if len(buf) != 1176 {
		t.Fatalf("expected 1176 bytes, got %d", len(buf))
	}
	if string(buf[0:4]) != "SMFG" {
		t.Fatalf("expected magic SMFG, got %q", buf[0:4])
	}
}

func TestSerializeAuxConfigRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"main":"a.js","output":"out.blob",
		"smol":{
			"fakeArgvEnv":"MY_ARGV",
			"update":{
				"binname":"mytool",
				"command":"update",
				"url":"https://example.com/releases",
				"tag":"v1.2.3",
				"skipEnv":"MYTOOL_SKIP_UPDATE",
				"interval":1000,
				"notifyInterval":2000,
				"prompt":true,
				"promptDefault":"no"
			}
		}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	buf, err := SerializeAuxConfig(cfg)
	if err != nil {
		t.Fatalf("SerializeAuxConfig: %v", err)
	}

	got, err := ParseAuxConfig(buf, "test")
	if err != nil {
		t.Fatalf("ParseAuxConfig: %v", err)
	}
	if got.Update.BinName != "mytool" || got.Update.Command != "update" ||
		got.Update.URL != "https://example.com/releases" || got.Update.Tag != "v1.2.3" ||
		got.Update.SkipEnv != "MYTOOL_SKIP_UPDATE" || got.Update.IntervalMS != 1000 ||
		got.Update.NotifyIntervalMS != 2000 || !got.Update.Prompt || got.Update.PromptDefault != 'n' ||
		got.FakeArgvEnv != "MY_ARGV" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSerializeAuxConfigZeroPadsUnusedBytes(t *testing.T) {
	cfg, err := Parse([]byte(`{"main":"a.js","output":"out.blob","smol":{"update":{"binname":"ab"}}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	buf, err := SerializeAuxConfig(cfg)
	if err != nil {
		t.Fatalf("SerializeAuxConfig: %v", err)
	}
	// binname slot: 1-byte length prefix + "ab" (2 bytes); remaining 125 bytes must be zero.
	for i := offBinName + 3; i < offBinName+lenBinName; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected zero padding at offset %d, got %d", i, buf[i])
		}
	}
}

func TestSerializeAuxConfigRejectsOverlongField(t *testing.T) {
	cfg := &Config{
		Update: UpdateConfig{
			Tag: strings.Repeat("x", 128),
		},
	}
	_, err := SerializeAuxConfig(cfg)
	if err == nil {
		t.Fatalf("expected overflow error for 128-byte tag")
	}
}
