package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/akshshar/xr-auditor/internal/audit"
)

// Field is a GENERAL fact the collector knows how to produce.
type Field string

// Supported GENERAL fields.
const (
	FieldHost    Field = "HOST"
	FieldDate    Field = "DATE"
	FieldVendor  Field = "VENDOR"
	FieldProduct Field = "PRODUCT"
	FieldOS      Field = "OS"
	FieldVersion Field = "VERSION"
	FieldIPAddr  Field = "IPADDR"
)

// Fixed platform facts.
const (
	Vendor = "Cisco"
	OS     = "IOS-XR"
)

// DefaultDateLayout renders CCYYMMDD-HH:MI TZ.
const DefaultDateLayout = "20060102-15:04 MST"

// DefaultDatePattern matches DefaultDateLayout.
const DefaultDatePattern = `[0-9]{8}-[0-9]{2}:[0-9]{2} [A-Z]{2,5}`

// MgmtInterface is the interface whose address is reported as IPADDR.
const MgmtInterface = "MgmtEth0/RP0/CPU0/0"

var months = map[string]string{
	"Jan": "01", "Feb": "02", "Mar": "03", "Apr": "04", "May": "05", "Jun": "06",
	"Jul": "07", "Aug": "08", "Sep": "09", "Oct": "10", "Nov": "11", "Dec": "12",
}

// CLI runs XR CLI exec commands.
type CLI interface {
	Exec(ctx context.Context, cli string) ([]string, error)
}

type factFunc func(g *General, ctx context.Context) (string, error)

var facts = map[Field]factFunc{
	FieldHost:    (*General).host,
	FieldDate:    (*General).date,
	FieldVendor:  func(*General, context.Context) (string, error) { return Vendor, nil },
	FieldProduct: (*General).product,
	FieldOS:      func(*General, context.Context) (string, error) { return OS, nil },
	FieldVersion: (*General).version,
	FieldIPAddr:  (*General).mgmtIP,
}

// General produces the GENERAL block.
type General struct {
	CLI CLI

	fields      []Field
	datePattern *regexp.Regexp
	now         func() time.Time
}

// NewGeneral returns a collector for fields, in order. Unknown field names
// are rejected here so a bad schema fails before any CLI call. datePattern is
// the schema's DATE pattern; an empty or invalid one falls back to
// DefaultDatePattern.
func NewGeneral(cli CLI, fields []string, datePattern string) (*General, error) {
	g := &General{CLI: cli, now: time.Now}
	var unknown []string
	for _, f := range fields {
		if _, ok := facts[Field(f)]; !ok {
			unknown = append(unknown, f)
			continue
		}
		g.fields = append(g.fields, Field(f))
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unsupported GENERAL fields: %s", strings.Join(unknown, ", "))
	}

	if datePattern == "" {
		log.Printf("[WARN] No DATE pattern in schema, using default pattern: CCYYMMDD-HH:MI TZ")
		datePattern = DefaultDatePattern
	}
	re, err := regexp.Compile(`^(?:` + datePattern + `)$`)
	if err != nil {
		log.Printf("[WARN] Invalid DATE pattern %q (%v), using default pattern: CCYYMMDD-HH:MI TZ", datePattern, err)
		re = regexp.MustCompile(`^(?:` + DefaultDatePattern + `)$`)
	}
	g.datePattern = re
	return g, nil
}

// Fields returns the fields collected, in order.
func (g *General) Fields() []Field {
	return append([]Field(nil), g.fields...)
}

// Collect returns every configured fact in order. A fact that cannot be
// produced is logged and reported empty.
func (g *General) Collect(ctx context.Context) *audit.General {
	out := &audit.General{}
	for _, f := range g.fields {
		value, err := facts[f](g, ctx)
		if err != nil {
			logCollectionError(&CollectionError{Item: "GENERAL", Field: string(f), Err: err})
			value = ""
		}
		out.Facts = append(out.Facts, audit.Fact{Name: string(f), Value: value})
	}
	return out
}

func (g *General) host(ctx context.Context) (string, error) {
	lines, err := g.CLI.Exec(ctx, "show running-config hostname")
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "hostname" {
			return fields[1], nil
		}
	}
	return "", errors.New("hostname is not configured")
}

// product reads the PID of the last inventory entry naming 0/RP0.
func (g *General) product(ctx context.Context) (string, error) {
	lines, err := g.CLI.Exec(ctx, "show inventory details")
	if err != nil {
		return "", err
	}
	pidLine := ""
	for i, line := range lines {
		if strings.Contains(line, "0/RP0") && i+1 < len(lines) {
			pidLine = lines[i+1]
		}
	}
	if pidLine == "" {
		return "", errors.New("no 0/RP0 entry in inventory")
	}
	first, _, _ := strings.Cut(pidLine, ",")
	_, pid, ok := strings.Cut(first, ":")
	if !ok {
		return "", fmt.Errorf("unexpected inventory line %q", pidLine)
	}
	return strings.TrimSpace(pid), nil
}

func (g *General) version(ctx context.Context) (string, error) {
	lines, err := g.CLI.Exec(ctx, "show version")
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if strings.Contains(line, "Version") {
			fields := strings.Fields(line)
			return fields[len(fields)-1], nil
		}
	}
	return "", errors.New("no version line")
}

// mgmtIP returns the management address as printed, prefix length included.
func (g *General) mgmtIP(ctx context.Context) (string, error) {
	lines, err := g.CLI.Exec(ctx, "show interface "+MgmtInterface)
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if strings.Contains(line, "Internet address is") {
			fields := strings.Fields(line)
			return fields[len(fields)-1], nil
		}
	}
	return "", fmt.Errorf("%s has no address", MgmtInterface)
}

// date renders the router clock as CCYYMMDD-HH:MI TZ. When the clock cannot be
// read or the result does not match the schema pattern, the local clock in
// DefaultDateLayout is used instead.
func (g *General) date(ctx context.Context) (string, error) {
	fallback := func(reason string) (string, error) {
		log.Printf("[WARN] %s, using default pattern: CCYYMMDD-HH:MI TZ", reason)
		return g.now().Format(DefaultDateLayout), nil
	}

	lines, err := g.CLI.Exec(ctx, "show clock")
	if err != nil {
		return fallback(fmt.Sprintf("Failed to read router clock: %v", err))
	}
	value, err := parseClock(lines)
	if err != nil {
		return fallback(err.Error())
	}
	if !g.datePattern.MatchString(value) {
		return fallback(fmt.Sprintf("Date %q does not match schema pattern %s", value, g.datePattern))
	}
	return value, nil
}

// parseClock converts "HH:MM:SS.mmm TZ Day Mon DD CCYY" to CCYYMMDD-HH:MI TZ.
func parseClock(lines []string) (string, error) {
	for _, line := range lines {
		f := strings.Fields(line)
		if len(f) < 6 {
			continue
		}
		hms := strings.Split(f[0], ":")
		if len(hms) < 2 {
			continue
		}
		mm, ok := months[f[3]]
		if !ok {
			continue
		}
		day := f[4]
		if len(day) == 1 {
			day = "0" + day
		}
		return f[len(f)-1] + mm + day + "-" + hms[0] + ":" + hms[1] + " " + f[1], nil
	}
	return "", fmt.Errorf("unrecognised clock output %q", strings.Join(lines, " "))
}
