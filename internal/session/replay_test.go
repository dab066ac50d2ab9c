package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/relay/internal/transcript"
)

func TestRestoreTranscript(t *testing.T) {
	path := writeTranscript(t, "relay> a<relay:end-of-prompt>\n1\n\nrelay> b<relay:end-of-prompt>\n2\n\n")

	p := &pending{}
	rec := newRecorder()
	s := newTestSession(t, p.execute, rec)

	require.NoError(t, s.RestoreTranscript(path))

	assert.Equal(t, []transcript.Entry{
		transcript.NewEntry("a", "1"),
		transcript.NewEntry("b", "2"),
	}, s.History())
	assert.Equal(t, path, s.TranscriptPath())
	assert.Equal(t, []string{"1", "2"}, rec.Outputs())
	assert.Len(t, rec.Completions(), 2)
	assert.Empty(t, p.Calls(), "replay must not reach the real executor")

	require.NoError(t, s.Submit("c"))
	assert.Len(t, p.Calls(), 1)
}

func TestReplay_PreservesTagsAndEchoes(t *testing.T) {
	s := newTestSession(t, nil, newRecorder())
	entries := []transcript.Entry{
		transcript.NewEntry("", "banner"),
		transcript.NewEntry("a", ""),
		{Input: strp("b"), Output: strp("part"), Interrupted: true},
		{Input: strp("c"), Output: strp("boom"), Failed: true},
		transcript.NewEntry("d", "4"),
	}

	require.NoError(t, s.Replay(entries))
	assert.Equal(t, entries, s.History())
	assert.False(t, s.Busy())
}

func TestReplay_SkipsValidator(t *testing.T) {
	s := newTestSession(t, nil, newRecorder(), func(c *Config) {
		c.Validator = func(string) error { return errors.New("no") }
	})

	require.NoError(t, s.Replay([]transcript.Entry{transcript.NewEntry("a", "1")}))
	assert.Len(t, s.History(), 1)

	var verr *ValidationError
	assert.ErrorAs(t, s.Submit("b"), &verr)
}

func TestReplay_MalformedEntryAborts(t *testing.T) {
	p := &pending{}
	s := newTestSession(t, p.execute, newRecorder())
	entries := []transcript.Entry{
		transcript.NewEntry("a", "1"),
		{},
		transcript.NewEntry("c", "3"),
	}

	err := s.Replay(entries)
	var terr *TranscriptError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, terr.Index)
	assert.Equal(t, []transcript.Entry{transcript.NewEntry("a", "1")}, s.History())

	require.NoError(t, s.Submit("live"))
	assert.Len(t, p.Calls(), 1, "original executor restored after abort")
}

func TestReplay_BlankInputAborts(t *testing.T) {
	s := newTestSession(t, nil, newRecorder())
	err := s.Replay([]transcript.Entry{{Input: strp("  "), Output: strp("x")}})

	var terr *TranscriptError
	require.ErrorAs(t, err, &terr)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestReplay_Busy(t *testing.T) {
	p := &pending{}
	s := newTestSession(t, p.execute, newRecorder())
	require.NoError(t, s.Submit("a"))

	assert.ErrorIs(t, s.Replay([]transcript.Entry{transcript.NewEntry("b", "2")}), ErrBusy)
}

func TestRestoreTranscript_CorruptClearsPath(t *testing.T) {
	s := newTestSession(t, nil, newRecorder())
	s.AppendHistory(transcript.NewEntry("x", "y"))

	good := writeTranscript(t, "")
	require.NoError(t, s.SaveTranscript(good))
	require.Equal(t, good, s.TranscriptPath())

	corrupt := writeTranscript(t, "relay> a<relay:end-of-prompt>b<relay:end-of-prompt>\n1\n")
	err := s.RestoreTranscript(corrupt)

	var terr *TranscriptError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, transcript.ErrMarkerCollision)
	assert.Empty(t, s.TranscriptPath())
	assert.ErrorIs(t, s.SaveTranscript(""), ErrNoTranscriptPath)
}

func TestRestoreTranscript_MissingFile(t *testing.T) {
	s := newTestSession(t, nil, newRecorder())
	assert.Error(t, s.RestoreTranscript("/nonexistent/relay.transcript"))
}
