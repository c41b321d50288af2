// Package dbc implements the line-oriented subset of DBC parsing this
// gateway needs: the PAT_J0 message's signal labels, used only to
// annotate the switching-matrix dashboard state (spec §9 "Parse only
// the PAT_J0 signal labels via a small, line-oriented scanner;
// everything else is out of scope").
package dbc

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// messageName is the only BO_ block this parser looks inside.
const messageName = "PAT_J0"

// ParsePATJ0Labels scans r for the BO_ block naming PAT_J0 and returns
// the SG_ signal names declared inside it, in file order. Any other
// message's signals, and the rest of the DBC grammar (value tables,
// comments, attributes), are ignored.
func ParsePATJ0Labels(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	var labels []string
	inBlock := false

	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "BO_ ") {
			inBlock = isPATJ0Header(trimmed)
			continue
		}
		if !inBlock {
			continue
		}
		if strings.HasPrefix(trimmed, "SG_ ") {
			name, ok := signalName(trimmed)
			if ok {
				labels = append(labels, name)
			}
			continue
		}
		// A line with no leading whitespace that isn't BO_/SG_ ends the
		// current message block in standard DBC layout.
		if line != "" && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			inBlock = false
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dbc: scan: %w", err)
	}
	return labels, nil
}

// isPATJ0Header reports whether a "BO_ <id> <name>: <dlc> <sender>"
// line names the PAT_J0 message.
func isPATJ0Header(line string) bool {
	fields := strings.Fields(line)
	// fields[0]="BO_", fields[1]=id, fields[2]="PAT_J0:" or "PAT_J0"
	if len(fields) < 3 {
		return false
	}
	name := strings.TrimSuffix(fields[2], ":")
	return name == messageName
}

// signalName extracts the identifier following "SG_ " on a signal
// line, e.g. "SG_ Conn0Pin : 0|2@1+ (1,0) [0|3] \"\" Vector__XXX".
func signalName(line string) (string, bool) {
	rest := strings.TrimPrefix(line, "SG_ ")
	idx := strings.IndexAny(rest, " :")
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}
