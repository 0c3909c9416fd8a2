package quota

import (
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StorageKey returns the namespaced storage key for a key's persisted
// quota record.
func StorageKey(keyID string) string {
	return "quota:" + keyID
}

// Encode renders a quota record as the JSON string the storage contract
// expects: {"quotaUsed": integer, "periodStart": ISO-8601 UTC timestamp}.
func Encode(st State) string {
	doc, _ := sjson.Set("{}", "quotaUsed", st.Used)
	doc, _ = sjson.Set(doc, "periodStart", st.PeriodStart.UTC().Format(time.RFC3339))
	return doc
}

// Decode parses a persisted quota record. Malformed input is reported via
// ok=false so the caller can discard it and start a fresh period, per the
// load-time contract: bad data never panics and never blocks startup.
func Decode(raw string) (State, bool) {
	if !gjson.Valid(raw) {
		return State{}, false
	}
	usedResult := gjson.Get(raw, "quotaUsed")
	startResult := gjson.Get(raw, "periodStart")
	if !usedResult.Exists() || !startResult.Exists() {
		return State{}, false
	}
	if usedResult.Type != gjson.Number {
		return State{}, false
	}
	periodStart, err := time.Parse(time.RFC3339, startResult.String())
	if err != nil {
		return State{}, false
	}
	used := usedResult.Int()
	if used < 0 {
		return State{}, false
	}
	return State{Used: int(used), PeriodStart: periodStart}, true
}
