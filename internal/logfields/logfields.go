package logfields

import "log/slog"

// Canonical log field names shared across packages.
const (
	KeyUser       = "user_id"
	KeyUserName   = "user_name"
	KeyState      = "state"
	KeyFrom       = "from"
	KeyTo         = "to"
	KeyStatus     = "status"
	KeyRawStatus  = "raw_status"
	KeyRule       = "rule"
	KeyCondition  = "condition"
	KeyAction     = "action"
	KeyJob        = "job"
	KeyPath       = "path"
	KeyMethod     = "method"
	KeyDurationMS = "duration_ms"
	KeyRequestID  = "request_id"
	KeyError      = "error"
)

func User(id string) slog.Attr         { return slog.String(KeyUser, id) }
func UserName(n string) slog.Attr      { return slog.String(KeyUserName, n) }
func State(s string) slog.Attr         { return slog.String(KeyState, s) }
func From(s string) slog.Attr          { return slog.String(KeyFrom, s) }
func To(s string) slog.Attr            { return slog.String(KeyTo, s) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func RawStatus(s string) slog.Attr     { return slog.String(KeyRawStatus, s) }
func Rule(r string) slog.Attr          { return slog.String(KeyRule, r) }
func Condition(c string) slog.Attr     { return slog.String(KeyCondition, c) }
func Action(a string) slog.Attr        { return slog.String(KeyAction, a) }
func Job(name string) slog.Attr        { return slog.String(KeyJob, name) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func RequestID(id string) slog.Attr    { return slog.String(KeyRequestID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
