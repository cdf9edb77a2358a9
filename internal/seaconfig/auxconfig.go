package seaconfig

import (
	"encoding/binary"
	"fmt"

	"github.com/socketdev/binject/internal/errs"
)

// Fixed layout of the "SMFG" auxiliary-config record, per spec §3. Every
// string field is a length-prefixed, zero-padded fixed-size slot so the
// record's total size never varies with the input config.
const (
	smfgMagic0, smfgMagic1, smfgMagic2, smfgMagic3 = 'S', 'M', 'F', 'G'
	smfgVersion                                    = 1

	offMagic           = 0
	offVersion         = 4
	offPromptFlag      = 6
	offPromptDefault   = 7
	offIntervalMS      = 8
	offNotifyIntervalMS = 16
	offBinName         = 24
	lenBinName         = 128 // u8 len prefix, max payload 127
	offCommand         = offBinName + lenBinName // 152
	lenCommand         = 256                     // u16 len prefix, max payload 254
	offURL             = offCommand + lenCommand // 408
	lenURL             = 512                     // u16 len prefix, max payload 510
	offTag             = offURL + lenURL // 920
	lenTag             = 128             // u8 len prefix, max payload 127
	offSkipEnv         = offTag + lenTag // 1048
	lenSkipEnv         = 64              // u8 len prefix, max payload 63
	offFakeArgvEnv     = offSkipEnv + lenSkipEnv // 1112
	lenFakeArgvEnv     = 64                      // u8 len prefix, max payload 63

	AuxConfigSize = offFakeArgvEnv + lenFakeArgvEnv // 1176
)

// SerializeAuxConfig implements serialize_aux_config: Config -> fixed
// 1176-byte SMFG record. Only the Update sub-config and FakeArgvEnv are
// recorded; Main/Output/Assets govern blob generation, not the stub's
// runtime behavior.
func SerializeAuxConfig(cfg *Config) ([]byte, error) {
	const op = "seaconfig.SerializeAuxConfig"
	buf := make([]byte, AuxConfigSize)

	buf[offMagic+0] = smfgMagic0
	buf[offMagic+1] = smfgMagic1
	buf[offMagic+2] = smfgMagic2
	buf[offMagic+3] = smfgMagic3
	binary.LittleEndian.PutUint16(buf[offVersion:], smfgVersion)

	u := cfg.Update
	if u.Prompt {
		buf[offPromptFlag] = 1
	}
	promptDefault := u.PromptDefault
	if promptDefault == 0 {
		promptDefault = defaultPromptDefault
	}
	buf[offPromptDefault] = promptDefault

	binary.LittleEndian.PutUint64(buf[offIntervalMS:], uint64(u.IntervalMS))
	binary.LittleEndian.PutUint64(buf[offNotifyIntervalMS:], uint64(u.NotifyIntervalMS))

	if err := putU8String(buf, offBinName, lenBinName, u.BinName, op, "smol.update.binname"); err != nil {
		return nil, err
	}

	command := u.Command
	if command == "" {
		command = defaultCommand
	}
	if err := putU16String(buf, offCommand, lenCommand, command, op, "smol.update.command"); err != nil {
		return nil, err
	}
	if err := putU16String(buf, offURL, lenURL, u.URL, op, "smol.update.url"); err != nil {
		return nil, err
	}
	if err := putU8String(buf, offTag, lenTag, u.Tag, op, "smol.update.tag"); err != nil {
		return nil, err
	}
	if err := putU8String(buf, offSkipEnv, lenSkipEnv, u.SkipEnv, op, "smol.update.skipEnv"); err != nil {
		return nil, err
	}

	fakeArgvEnv := cfg.FakeArgvEnv
	if fakeArgvEnv == "" {
		fakeArgvEnv = defaultFakeArgvEnv
	}
	if err := putU8String(buf, offFakeArgvEnv, lenFakeArgvEnv, fakeArgvEnv, op, "smol.fakeArgvEnv"); err != nil {
		return nil, err
	}

	return buf, nil
}

// putU8String writes a 1-byte length prefix followed by s's bytes into
// buf[off:off+slotLen], left zero-padded for the remainder of the slot.
func putU8String(buf []byte, off, slotLen int, s, op, field string) error {
	if len(s) > slotLen-1 {
		return errs.Field(op, field, errFieldTooLong)
	}
	buf[off] = byte(len(s))
	copy(buf[off+1:off+slotLen], s)
	return nil
}

// putU16String is putU8String's 2-byte-length-prefix counterpart.
func putU16String(buf []byte, off, slotLen int, s, op, field string) error {
	if len(s) > slotLen-2 {
		return errs.Field(op, field, errFieldTooLong)
	}
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(s)))
	copy(buf[off+2:off+slotLen], s)
	return nil
}

var errFieldTooLong = fmt.Errorf("exceeds its record slot")

// ParseAuxConfig reverses SerializeAuxConfig; the tests use it to assert
// round-trip fidelity.
func ParseAuxConfig(buf []byte, op string) (*Config, error) {
	if len(buf) != AuxConfigSize {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	if buf[offMagic] != smfgMagic0 || buf[offMagic+1] != smfgMagic1 ||
		buf[offMagic+2] != smfgMagic2 || buf[offMagic+3] != smfgMagic3 {
		return nil, errs.New(errs.MalformedBinary, op)
	}
	if binary.LittleEndian.Uint16(buf[offVersion:]) != smfgVersion {
		return nil, errs.New(errs.MalformedBinary, op)
	}

	cfg := &Config{Update: UpdateConfig{}}
	cfg.Update.Prompt = buf[offPromptFlag] != 0
	cfg.Update.PromptDefault = buf[offPromptDefault]
	cfg.Update.IntervalMS = int64(binary.LittleEndian.Uint64(buf[offIntervalMS:]))
	cfg.Update.NotifyIntervalMS = int64(binary.LittleEndian.Uint64(buf[offNotifyIntervalMS:]))

	var err error
	if cfg.Update.BinName, err = getU8String(buf, offBinName, lenBinName, op); err != nil {
		return nil, err
	}
	if cfg.Update.Command, err = getU16String(buf, offCommand, lenCommand, op); err != nil {
		return nil, err
	}
	if cfg.Update.URL, err = getU16String(buf, offURL, lenURL, op); err != nil {
		return nil, err
	}
	if cfg.Update.Tag, err = getU8String(buf, offTag, lenTag, op); err != nil {
		return nil, err
	}
	if cfg.Update.SkipEnv, err = getU8String(buf, offSkipEnv, lenSkipEnv, op); err != nil {
		return nil, err
	}
	if cfg.FakeArgvEnv, err = getU8String(buf, offFakeArgvEnv, lenFakeArgvEnv, op); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getU8String(buf []byte, off, slotLen int, op string) (string, error) {
	n := int(buf[off])
	if n > slotLen-1 {
		return "", errs.New(errs.MalformedBinary, op)
	}
	return string(buf[off+1 : off+1+n]), nil
}

func getU16String(buf []byte, off, slotLen int, op string) (string, error) {
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	if n > slotLen-2 {
		return "", errs.New(errs.MalformedBinary, op)
	}
	return string(buf[off+2 : off+2+n]), nil
}
