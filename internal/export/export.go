// Package export converts a run into the survey platform's embedded-data
// convention: a flat map of named string values where arrays and objects are
// JSON-encoded.
package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/drivelab/copilot-sim/pkg/core"
)

// Keys written for every run, in output order.
var Keys = []string{
	"runId",
	"participantId",
	"condition",
	"profile",
	"startTime",
	"completed",
	"finalScore",
	"obstaclesHit",
	"ticks",
	"simTime",
	"elapsedSeconds",
	"distance",
	"manualSeconds",
	"modeBySecond",
	"modeByDistance",
	"collisions",
	"notifications",
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func encode(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

// notificationKey builds a per-notification key, e.g. "notif_n1_reactionTime".
func notificationKey(id, field string) string {
	return "notif_" + strings.ReplaceAll(id, " ", "_") + "_" + field
}

// Flatten returns one key per field of run and rec. Each notification also
// gets its own seen, reactionTime and totalOpenTime keys; a missing reaction
// time is the empty string.
func Flatten(run core.Run, rec core.TelemetryRecord) (map[string]string, error) {
	manual := 0
	for _, m := range rec.ModeBySecond {
		if m == core.ModeManual {
			manual++
		}
	}

	out := map[string]string{
		"runId":          rec.RunID,
		"participantId":  run.ParticipantID,
		"condition":      run.Condition,
		"profile":        run.Profile,
		"startTime":      run.StartTime.UTC().Format(time.RFC3339Nano),
		"completed":      strconv.FormatBool(rec.Completed),
		"finalScore":     strconv.Itoa(rec.FinalScore),
		"obstaclesHit":   strconv.Itoa(rec.ObstaclesHit),
		"ticks":          strconv.FormatUint(rec.Ticks, 10),
		"simTime":        formatFloat(rec.SimTime),
		"elapsedSeconds": strconv.Itoa(rec.ElapsedSeconds),
		"distance":       formatFloat(rec.Distance),
		"manualSeconds":  strconv.Itoa(manual),
	}
	if out["runId"] == "" {
		out["runId"] = run.RunID
	}

	for key, v := range map[string]any{
		"modeBySecond":   rec.ModeBySecond,
		"modeByDistance": rec.ModeByDistance,
		"collisions":     rec.Collisions,
		"notifications":  rec.Notifications,
	} {
		s, err := encode(v, "[]")
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", key, err)
		}
		out[key] = s
	}

	for _, n := range rec.Notifications {
		out[notificationKey(n.ID, "seen")] = strconv.FormatBool(n.Seen)
		out[notificationKey(n.ID, "totalOpenTime")] = formatFloat(n.TotalOpenTime)
		rt := ""
		if n.ReactionTime != nil {
			rt = formatFloat(*n.ReactionTime)
		}
		out[notificationKey(n.ID, "reactionTime")] = rt
	}
	return out, nil
}

// SortedKeys returns the keys of a flattened record: the fixed keys first,
// then the per-notification keys alphabetically.
func SortedKeys(data map[string]string) []string {
	fixed := make(map[string]bool, len(Keys))
	keys := make([]string, 0, len(data))
	for _, k := range Keys {
		fixed[k] = true
		if _, ok := data[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range data {
		if !fixed[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
