package cronregistry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const externalFile = `{
  "createdAt": "2026-01-01T00:00:00.000Z",
  "updatedAt": "2026-01-02T00:00:00.000Z",
  "owner": "cron-manager",
  "jobs": {
    "j1": {
      "id": "j1",
      "name": "Backup",
      "description": "",
      "schedule": "Every 5 minutes",
      "command": "tar czf /tmp/b.tgz ~/work",
      "agentId": "kid",
      "enabled": true,
      "createdAt": "2026-01-01T00:00:00.000Z",
      "updatedAt": "2026-01-01T00:00:00.000Z",
      "lastRun": "2026-01-02T00:00:00.000Z",
      "nextRun": null,
      "status": "completed",
      "history": [{"at": "2026-01-02T00:00:00.000Z", "exitCode": 0}],
      "timeoutSec": 30
    },
    "broken": {"id": "broken", "enabled": "yes"}
  },
  "statistics": {"total": 99, "active": 0, "inactive": 0, "errors": 0}
}`

func TestDecode_PreservesUnknownFields(t *testing.T) {
	reg, err := Decode([]byte(externalFile))
	require.NoError(t, err)

	require.Contains(t, reg.Jobs, "j1")
	j := reg.Jobs["j1"]
	assert.Equal(t, "Backup", j.Name)
	assert.Equal(t, JobCompleted, j.Status)
	require.NotNil(t, j.LastRun)
	assert.Equal(t, "2026-01-02T00:00:00.000Z", *j.LastRun)
	assert.Nil(t, j.NextRun)
	assert.Len(t, j.History, 1)
	assert.JSONEq(t, `30`, string(j.Extra["timeoutSec"]))
	assert.Equal(t, []string{"broken"}, reg.InvalidIDs())

	out, err := Encode(reg)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, "cron-manager", generic["owner"])
	jobs := generic["jobs"].(map[string]any)
	assert.Equal(t, float64(30), jobs["j1"].(map[string]any)["timeoutSec"])
	assert.Equal(t, "yes", jobs["broken"].(map[string]any)["enabled"], "undecodable jobs are written back verbatim")
}

func TestEncode_IsStable(t *testing.T) {
	reg, err := Decode([]byte(externalFile))
	require.NoError(t, err)
	first, err := Encode(reg)
	require.NoError(t, err)

	again, err := Decode(first)
	require.NoError(t, err)
	second, err := Encode(again)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRecompute(t *testing.T) {
	reg, err := Decode([]byte(externalFile))
	require.NoError(t, err)
	reg.Jobs["j2"] = &CronJob{ID: "j2", Enabled: false, Status: JobError}
	reg.Jobs["j3"] = &CronJob{ID: "j3", Enabled: true, Status: JobPending}
	reg.Recompute()

	assert.Equal(t, Statistics{Total: 4, Active: 2, Inactive: 2, Errors: 1}, reg.Statistics)
}

func TestCronJob_NullHistoryEncodesAsEmptyArray(t *testing.T) {
	var j CronJob
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","history":null,"lastRun":null}`), &j))
	b, err := json.Marshal(j)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"history":[]`)
	assert.Contains(t, string(b), `"lastRun":null`)
}
