package sqlfn

import (
	"database/sql/driver"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vulnwatch/scanmgr/internal/hostutil"
	"github.com/vulnwatch/scanmgr/internal/sqlexec"
	"github.com/vulnwatch/scanmgr/internal/timeutil"
)

// Registry holds the functions installed into one engine connection. The
// connection is captured at install time so functions that probe the
// database (uniquify) run their reads through the very connection that is
// evaluating the calling statement, which can never deadlock against it.
type Registry struct {
	domain TaskDomain
	conn   *sqlite3.SQLiteConn
}

// NewRegistry builds a registry around the given task-domain capability.
// domain may be nil, in which case the task functions report engine-level
// errors when called.
func NewRegistry(domain TaskDomain) *Registry {
	return &Registry{domain: domain}
}

// Install registers every function on conn. The driver enforces arity from
// the Go signatures; a mismatch in calling SQL fails the statement at the
// engine level. Meant to run from the driver's connect hook.
func (r *Registry) Install(conn *sqlite3.SQLiteConn) error {
	r.conn = conn
	entries := []struct {
		name string
		impl any
		pure bool
	}{
		{"make_uuid", r.makeUUID, false},
		{"hosts_contains", r.hostsContains, true},
		{"clean_hosts", r.cleanHosts, true},
		{"uniquify", r.uniquify, false},
		{"iso_time", r.isoTime, true},
		{"parse_time", r.parseTime, true},
		{"now", timeutil.Now, false},
		{"tag", r.tag, true},
		{"max_hosts", r.maxHosts, true},
		{"common_cve", r.commonCVE, true},
		{"current_offset", r.currentOffset, false},
		{"task_trend", r.taskTrend, false},
		{"threat_level", r.threatLevel, false},
		{"run_status_name", r.runStatusName, false},
	}
	for _, e := range entries {
		if err := conn.RegisterFunc(e.name, e.impl, e.pure); err != nil {
			return fmt.Errorf("register %s: %w", e.name, err)
		}
	}
	return nil
}

func (r *Registry) makeUUID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return u.String(), nil
}

func (r *Registry) hostsContains(hosts, host any) (bool, error) {
	hostsText, ok := argText(hosts)
	if !ok {
		return false, fmt.Errorf("hosts_contains: hosts argument missing")
	}
	hostText, ok := argText(host)
	if !ok {
		return false, fmt.Errorf("hosts_contains: host argument missing")
	}
	return hostutil.Contains(hostsText, hostText), nil
}

func (r *Registry) cleanHosts(hosts any) (string, error) {
	text, ok := argText(hosts)
	if !ok {
		return "", fmt.Errorf("clean_hosts: hosts argument missing")
	}
	return hostutil.Clean(text), nil
}

// uniquify finds the first free name of the form "{name}{suffix} {n}" under
// the given type's table and owner visibility. The caller holds whatever
// transaction makes the check race-free; no atomicity is guaranteed here.
func (r *Registry) uniquify(typ, name, owner, suffix any) (string, error) {
	typText, ok := argText(typ)
	if !ok {
		return "", fmt.Errorf("uniquify: type argument missing")
	}
	nameText, ok := argText(name)
	if !ok {
		return "", fmt.Errorf("uniquify: name argument missing")
	}
	suffixText, _ := argText(suffix)

	ownerClause := "owner IS NULL"
	if ownerID, present := argInt(owner); present {
		ownerClause = fmt.Sprintf("(owner IS NULL OR owner = %d)", ownerID)
	}
	// Tables are named by appending "s" to the logical type.
	table := sqlexec.Ident(typText + "s")

	for n := int64(1); ; n++ {
		candidate := fmt.Sprintf("%s%s %d", nameText, suffixText, n)
		probe := fmt.Sprintf("SELECT count(*) FROM %s WHERE name = '%s' AND %s",
			table, sqlexec.Quote(candidate), ownerClause)
		count, err := r.queryInt(probe)
		if err != nil {
			return "", fmt.Errorf("uniquify probe: %w", err)
		}
		if count == 0 {
			return candidate, nil
		}
	}
}

func (r *Registry) isoTime(epoch any) (string, error) {
	n, ok := argInt(epoch)
	if !ok {
		return "", fmt.Errorf("iso_time: epoch argument missing")
	}
	return timeutil.ISOTime(n), nil
}

// parseTime never errors the query; unknown times degrade to zero.
func (r *Registry) parseTime(text any) int64 {
	t, ok := argText(text)
	if !ok {
		return 0
	}
	return timeutil.ParseTime(t)
}

func (r *Registry) tag(tags, key any) string {
	tagsText, ok := argText(tags)
	if !ok {
		return ""
	}
	keyText, ok := argText(key)
	if !ok {
		return ""
	}
	return Tag(tagsText, keyText)
}

// maxHosts treats a missing list as the empty-result case, not an error.
func (r *Registry) maxHosts(hosts any) string {
	text, ok := argText(hosts)
	if !ok {
		return "0"
	}
	return strconv.Itoa(hostutil.Max(text))
}

func (r *Registry) commonCVE(a, b any) (bool, error) {
	aText, ok := argText(a)
	if !ok {
		return false, fmt.Errorf("common_cve: first list missing")
	}
	bText, ok := argText(b)
	if !ok {
		return false, fmt.Errorf("common_cve: second list missing")
	}
	return CommonCVE(aText, bText), nil
}

func (r *Registry) currentOffset(zone any) (int64, error) {
	text, ok := argText(zone)
	if !ok {
		return 0, fmt.Errorf("current_offset: zone argument missing")
	}
	return int64(timeutil.CurrentOffset(text)), nil
}

func (r *Registry) taskTrend(taskID, overrides any) (string, error) {
	id, ok := argInt(taskID)
	if !ok {
		return "", fmt.Errorf("task_trend: task argument missing")
	}
	if id == 0 {
		return "", nil
	}
	if r.domain == nil {
		return "", fmt.Errorf("task_trend: task domain not configured")
	}
	over, _ := argInt(overrides)
	return r.domain.Trend(id, over != 0)
}

// threatLevel distinguishes "no threat computed yet for an existing
// report" (the literal "None") from "no report at all" (empty string).
func (r *Registry) threatLevel(taskID, overrides any) (string, error) {
	id, ok := argInt(taskID)
	if !ok {
		return "", fmt.Errorf("threat_level: task argument missing")
	}
	if id == 0 {
		return "", nil
	}
	if r.domain == nil {
		return "", fmt.Errorf("threat_level: task domain not configured")
	}
	over, _ := argInt(overrides)
	level, ok, err := r.domain.ThreatLevel(id, over != 0)
	if err != nil {
		return "", err
	}
	if ok {
		return level, nil
	}
	if _, hasReport, err := r.domain.LastReport(id); err != nil {
		return "", err
	} else if hasReport {
		return "None", nil
	}
	return "", nil
}

func (r *Registry) runStatusName(status any) (string, error) {
	n, ok := argInt(status)
	if !ok {
		return "", fmt.Errorf("run_status_name: status argument missing")
	}
	if r.domain == nil {
		return "", fmt.Errorf("run_status_name: task domain not configured")
	}
	return r.domain.RunStatusName(n), nil
}

// queryInt runs a single-value read through the captured driver
// connection. This must stay a plain read: a nested write would deadlock
// against the statement the engine is currently stepping.
func (r *Registry) queryInt(query string) (int64, error) {
	rows, err := r.conn.Query(query, nil)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	dest := make([]driver.Value, len(rows.Columns()))
	if err := rows.Next(dest); err != nil {
		if err == io.EOF {
			return 0, fmt.Errorf("probe returned no rows")
		}
		return 0, err
	}
	n, ok := dest[0].(int64)
	if !ok {
		return 0, fmt.Errorf("probe returned %T, want integer", dest[0])
	}
	return n, nil
}

// argText converts an engine value to text. ok is false for SQL NULL.
func argText(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	default:
		return fmt.Sprint(v), true
	}
}

// argInt converts an engine value to an integer. ok is false for SQL NULL
// or non-numeric text.
func argInt(v any) (int64, bool) {
	switch v := v.(type) {
	case nil:
		return 0, false
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
