package export

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glueful/audit-engine/internal/audit"
	"github.com/glueful/audit-engine/pkg/types"
)

func testRecords(n int) []*audit.Record {
	recs := make([]*audit.Record, n)
	for i := range recs {
		e := types.NewAuditEvent(context.Background(), types.CategoryDataAccess, "read", types.SeverityInfo,
			map[string]interface{}{"row": i, "note": "<b>&"})
		e.SetActor("alice")
		recs[i] = &audit.Record{
			Event:         e,
			RetentionDate: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
			Immutable:     i%2 == 0,
		}
	}
	return recs
}

func TestNDJSON_RoundTrip(t *testing.T) {
	recs := testRecords(3)

	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf, true)
	for _, rec := range recs {
		require.NoError(t, w.Write(rec))
	}
	assert.Equal(t, 3, w.Count())
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "<b>&", "HTML is not escaped")

	got, err := ReadNDJSON(&buf)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rec := range got {
		assert.Equal(t, recs[i].Event.EventID, rec.Event.EventID)
		assert.Equal(t, recs[i].Event.IntegrityHash, rec.Event.IntegrityHash)
		assert.True(t, rec.Event.VerifyIntegrity())
		assert.Equal(t, recs[i].Immutable, rec.Immutable)
		assert.True(t, recs[i].RetentionDate.Equal(rec.RetentionDate))
	}
}

func TestNDJSON_VerifyRejectsTampered(t *testing.T) {
	recs := testRecords(2)
	recs[1].Event.ActorID = "mallory"

	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf, true)
	require.NoError(t, w.Write(recs[0]))

	err := w.Write(recs[1])
	require.Error(t, err)
	assert.True(t, audit.IsIntegrityViolation(err))
	assert.Contains(t, err.Error(), recs[1].Event.EventID)
	assert.Equal(t, 1, w.Count())

	// Without verification the record is exported as stored
	assert.NoError(t, NewNDJSONWriter(&buf, false).Write(recs[1]))
}

func TestReadNDJSON_Errors(t *testing.T) {
	_, err := ReadNDJSON(strings.NewReader("{\"event\": null}\n"))
	assert.Error(t, err)

	_, err = ReadNDJSON(strings.NewReader("not json\n"))
	assert.Error(t, err)

	recs, err := ReadNDJSON(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, recs)
}
