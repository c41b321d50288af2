// Package scpi implements the echo-tolerant SCPI line protocol used
// to talk to the DMM, e-load, and AFG over a serial or USB-TMC
// transport (spec §4.1).
package scpi

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Transport is the minimal surface a SCPI Link needs from its
// underlying serial or USB-TMC connection.
type Transport interface {
	io.Writer
	io.Reader
}

// Link is a single SCPI instrument connection. All I/O is serialized
// through mu, matching spec §5 ("each physical instrument handle has
// a dedicated mutex").
type Link struct {
	mu   sync.Mutex
	t    Transport
	r    *bufio.Reader
	name string
}

// Open wraps an already-open transport (serial port or USB-TMC
// device) in a Link.
func Open(name string, t Transport) *Link {
	return &Link{t: t, r: bufio.NewReaderSize(t, 4096), name: name}
}

// WriteOpts configures Write.
type WriteOpts struct {
	Delay       time.Duration
	ClearInput  bool
}

// Write sends cmd terminated with a newline. If ClearInput is set, it
// drains any bytes already buffered from the instrument first (to
// discard stale responses before a fresh command); Delay, if
// non-zero, is slept after the write completes.
func (l *Link) Write(cmd string, opts WriteOpts) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLocked(cmd, opts)
}

func (l *Link) writeLocked(cmd string, opts WriteOpts) error {
	if opts.ClearInput {
		l.r.Reset(l.t)
	}
	if _, err := io.WriteString(l.t, cmd+"\n"); err != nil {
		return fmt.Errorf("scpi: %s: write %q: %w", l.name, cmd, err)
	}
	if opts.Delay > 0 {
		time.Sleep(opts.Delay)
	}
	return nil
}

// QueryOpts configures QueryLine.
type QueryOpts struct {
	ReadLines int // number of candidate lines to read before giving up; 0 means a small default
	Delay     time.Duration
}

// QueryLine writes cmd and returns the first non-empty response line
// that is not a case-insensitive, whitespace-stripped prefix of cmd
// (tolerating full-echo and head-of-command echo), or "", false if no
// such line arrived within ReadLines attempts.
func (l *Link) QueryLine(cmd string, opts QueryOpts) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writeLocked(cmd, WriteOpts{Delay: opts.Delay}); err != nil {
		return "", false, err
	}
	attempts := opts.ReadLines
	if attempts <= 0 {
		attempts = 4
	}
	normCmd := normalizeEcho(cmd)
	for i := 0; i < attempts; i++ {
		line, err := l.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err != nil {
				return "", false, fmt.Errorf("scpi: %s: query %q: %w", l.name, cmd, err)
			}
			continue
		}
		if strings.HasPrefix(normCmd, normalizeEcho(line)) {
			continue
		}
		return line, true, nil
	}
	return "", false, nil
}

func normalizeEcho(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// Values is the result of FetchValues: up to two parsed numbers plus
// the raw line they came from.
type Values struct {
	Primary   float64
	HasPrimary bool
	Secondary float64
	HasSecondary bool
	Raw       string
}

// overloadThreshold: any |value| greater than this is instrument
// overload and is replaced with NaN (spec §4.1, §8).
const overloadThreshold = 1e36

// FetchValues queries cmd and parses the first two comma/space
// separated floats from the response.
func (l *Link) FetchValues(cmd string) (Values, error) {
	line, ok, err := l.QueryLine(cmd, QueryOpts{})
	if err != nil {
		return Values{}, err
	}
	if !ok {
		return Values{}, nil
	}
	return ParseValues(line), nil
}

// ParseValues extracts up to two floats from a raw SCPI response
// line, applying the overload-to-NaN rule. Exported so callers that
// already have a raw line (e.g. from a prior QueryLine) can reuse the
// parsing without round-tripping the instrument again.
func ParseValues(line string) Values {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	v := Values{Raw: line}
	nums := make([]float64, 0, 2)
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		if math.Abs(n) > overloadThreshold {
			n = math.NaN()
		}
		nums = append(nums, n)
		if len(nums) == 2 {
			break
		}
	}
	if len(nums) > 0 {
		v.Primary = nums[0]
		v.HasPrimary = true
	}
	if len(nums) > 1 {
		v.Secondary = nums[1]
		v.HasSecondary = true
	}
	return v
}

// errorQueueCmd is the standard SCPI error-queue query.
const errorQueueCmd = "SYST:ERR?"

// maxDrainErrors bounds DrainErrors so a misbehaving instrument that
// never reports "no error" cannot loop forever.
const maxDrainErrors = 32

// DrainErrors repeatedly queries the error queue until it returns an
// empty line or a "no error" response, up to maxN entries (spec
// §4.1). It returns entries in the order received.
func (l *Link) DrainErrors(maxN int) ([]string, error) {
	if maxN <= 0 || maxN > maxDrainErrors {
		maxN = maxDrainErrors
	}
	var errs []string
	for i := 0; i < maxN; i++ {
		line, ok, err := l.QueryLine(errorQueueCmd, QueryOpts{})
		if err != nil {
			return errs, err
		}
		if !ok || line == "" {
			break
		}
		if isNoError(line) {
			break
		}
		errs = append(errs, line)
	}
	return errs, nil
}

func isNoError(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "0") {
		return true
	}
	return strings.Contains(strings.ToUpper(trimmed), "NO ERROR")
}
