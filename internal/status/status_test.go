package status

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizedValuesDescribeWithinRange(t *testing.T) {
	for _, m := range []*Mapping{V1, V2, Combined} {
		for raw := range m.wire {
			d := m.Describe(raw)
			assert.True(t, d.Status.Known(), "%s %s", m.Version, raw)
			assert.NotEmpty(t, d.Label)
			assert.GreaterOrEqual(t, d.Position, 0)
			assert.LessOrEqual(t, d.Position, MaxPosition)
		}
	}
}

func TestUnknownValueFallsBackAndLogs(t *testing.T) {
	var buf bytes.Buffer
	m := V2.WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	d := m.Describe("EM_QUARENTENA")
	assert.Equal(t, Unknown, d.Status)
	assert.Equal(t, "Unknown status", d.Label)
	assert.Equal(t, 0, d.Position)
	assert.False(t, d.Terminal)
	assert.Contains(t, buf.String(), "EM_QUARENTENA")

	_, err := m.Parse("EM_QUARENTENA")
	assert.True(t, errors.Is(err, ErrUnmapped))
}

func TestSchemesDoNotLeakIntoEachOther(t *testing.T) {
	_, err := V2.Parse("in-review")
	assert.ErrorIs(t, err, ErrUnmapped)
	_, err = V1.Parse("EM_REVISAO")
	assert.ErrorIs(t, err, ErrUnmapped)

	s, err := Combined.Parse("in-review")
	require.NoError(t, err)
	assert.Equal(t, InReview, s)
}

func TestAwaitingStatesCollapseOntoStage(t *testing.T) {
	assert.Equal(t, InReview.Position(), AwaitingReview.Position())
	assert.Equal(t, InApproval.Position(), AwaitingApproval.Position())
	assert.Equal(t, 0, Submitted.Position())
	assert.True(t, Approved.IsTerminal())
	assert.True(t, Rejected.IsTerminal())
	assert.False(t, InApproval.IsTerminal())
}

func TestBothRejectedSpellingsMap(t *testing.T) {
	for _, raw := range []string{"REJEITADO", "RECUSADO"} {
		s, err := V2.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, Rejected, s)
	}
}

func TestWireRoundTripsForV2(t *testing.T) {
	for _, s := range All() {
		raw, err := V2.Wire(s)
		require.NoError(t, err)
		got, err := V2.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestFromSlug(t *testing.T) {
	s, err := FromSlug("awaiting-approval")
	require.NoError(t, err)
	assert.Equal(t, AwaitingApproval, s)
	_, err = FromSlug("unknown")
	assert.ErrorIs(t, err, ErrUnmapped)
}

func TestTimeline(t *testing.T) {
	tl := Timeline(InReview)
	require.Len(t, tl, 5)
	assert.Equal(t, StepDone, tl[0].State)
	assert.Equal(t, StepDone, tl[1].State)
	assert.Equal(t, StepCurrent, tl[2].State)
	assert.Equal(t, StepPending, tl[3].State)

	tl = Timeline(Rejected)
	assert.Equal(t, StepRejected, tl[4].State)
	assert.Equal(t, "Rejected", tl[4].Label)
	assert.Equal(t, StepDone, tl[3].State)

	tl = Timeline(Submitted)
	assert.Equal(t, StepCurrent, tl[0].State)
}
