package scpi

import "fmt"

// Dialect is the SCPI command style the DMM understands (spec §4.1).
type Dialect int

const (
	// DialectUnknown means no function-set attempt has yet succeeded.
	DialectUnknown Dialect = iota
	DialectFunc
	DialectConf
)

func (d Dialect) String() string {
	switch d {
	case DialectFunc:
		return "FUNC"
	case DialectConf:
		return "CONF"
	default:
		return "unknown"
	}
}

// Channel selects the primary or secondary display for CONF-style
// commands, which address it via a ",@n" suffix.
type Channel int

const (
	ChannelPrimary Channel = 1
	ChannelSecondary Channel = 2
)

// funcSubsystem maps a logical measurement function to its FUNC-style
// subsystem mnemonic, e.g. "VOLTage:DC".
var funcSubsystem = map[string]string{
	"VDC":  "VOLTage:DC",
	"VAC":  "VOLTage:AC",
	"IDC":  "CURRent:DC",
	"IAC":  "CURRent:AC",
	"RES":  "RESistance",
	"FRES": "FRESistance",
	"FREQ": "FREQuency",
	"CONT": "CONTinuity",
	"DIOD": "DIODe",
}

// confFunc maps the same logical function to the CONF-style token,
// e.g. "VOLT:DC".
var confFunc = map[string]string{
	"VDC":  "VOLT:DC",
	"VAC":  "VOLT:AC",
	"IDC":  "CURR:DC",
	"IAC":  "CURR:AC",
	"RES":  "RES",
	"FRES": "FRES",
	"FREQ": "FREQ",
	"CONT": "CONT",
	"DIOD": "DIOD",
}

// DialectResult carries the outcome of a function-set attempt (Design
// Notes: "replace exceptions used for control flow ... with a result
// type carrying {succeeded_dialect, errors_seen}").
type DialectResult struct {
	Succeeded Dialect
	ErrorsSeen []string
}

// SetFunction tries to set fn as the active measurement function on
// ch, attempting dialect candidates in order. preferred, if not
// DialectUnknown, is tried first (the "fast path" of a previously
// committed dialect); override, if not DialectUnknown, restricts the
// attempt to a single dialect (an explicit config override per the
// Open Questions in spec §9). It drains the error queue before each
// attempt and commits the first dialect whose error queue comes back
// clean.
func SetFunction(link *Link, fn string, ch Channel, preferred, override Dialect) (DialectResult, error) {
	funcSub, okF := funcSubsystem[fn]
	confTok, okC := confFunc[fn]
	if !okF && !okC {
		return DialectResult{}, fmt.Errorf("scpi: unsupported function %q", fn)
	}

	candidates := dialectOrder(preferred, override)
	var result DialectResult
	for _, d := range candidates {
		var cmd string
		switch d {
		case DialectFunc:
			if !okF {
				continue
			}
			if ch == ChannelSecondary {
				cmd = fmt.Sprintf(":FUNCtion2 %q", funcSub)
			} else {
				cmd = fmt.Sprintf(":FUNCtion %q", funcSub)
			}
		case DialectConf:
			if !okC {
				continue
			}
			cmd = fmt.Sprintf("CONF:%s,@%d", confTok, int(ch))
		}
		if _, err := link.DrainErrors(maxDrainErrors); err != nil {
			return result, err
		}
		if err := link.Write(cmd, WriteOpts{}); err != nil {
			return result, err
		}
		errs, err := link.DrainErrors(maxDrainErrors)
		if err != nil {
			return result, err
		}
		if len(errs) == 0 {
			result.Succeeded = d
			return result, nil
		}
		result.ErrorsSeen = append(result.ErrorsSeen, errs...)
	}
	return result, fmt.Errorf("scpi: could not set function %q in any dialect: %v", fn, result.ErrorsSeen)
}

// dialectOrder builds the attempt order: override pins a single
// dialect; otherwise preferred (the last committed dialect) is tried
// first, then the remaining dialects in FUNC-first auto order.
func dialectOrder(preferred, override Dialect) []Dialect {
	if override != DialectUnknown {
		return []Dialect{override}
	}
	order := []Dialect{DialectFunc, DialectConf}
	if preferred == DialectConf {
		order = []Dialect{DialectConf, DialectFunc}
	}
	return order
}
