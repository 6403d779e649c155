package output

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embano1/transcribe/internal/types"
)

func TestTimestamp(t *testing.T) {
	tests := []struct {
		in   float64
		sep  byte
		want string
	}{
		{0, ',', "00:00:00,000"},
		{1.5, ',', "00:00:01,500"},
		{61.0004, '.', "00:01:01.000"},
		{3723.9996, '.', "01:02:04.000"},
		{-3, ',', "00:00:00,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Timestamp(tt.in, tt.sep))
	}
}

func TestFormatSRT(t *testing.T) {
	got := string(FormatSRT([]types.Segment{
		{Start: 0, End: 1.2, Text: "Hello"},
		{Start: 1.2, End: 2.5, Text: "there", Speaker: "Speaker 1"},
	}))
	want := "1\n00:00:00,000 --> 00:00:01,200\nHello\n\n2\n00:00:01,200 --> 00:00:02,500\nSpeaker 1: there\n"
	assert.Equal(t, want, got)
}

func TestFormatVTT(t *testing.T) {
	got := string(FormatVTT([]types.Segment{{Start: 0.25, End: 1, Text: "Hi"}}))
	assert.Equal(t, "WEBVTT\n\n00:00:00.250 --> 00:00:01.000\nHi\n", got)
}

func TestSubtitleTimestampsAreMonotonic(t *testing.T) {
	segs := types.NormalizeSegments([]types.Segment{
		{Start: 3.3333, End: 4.1, Text: "c"},
		{Start: 0, End: 1.0005, Text: "a"},
		{Start: 1, End: 3.4, Text: "b"},
	})

	srtRe := regexp.MustCompile(`(\d{2}:\d{2}:\d{2},\d{3}) --> (\d{2}:\d{2}:\d{2},\d{3})`)
	vttRe := regexp.MustCompile(`(\d{2}:\d{2}:\d{2}\.\d{3}) --> (\d{2}:\d{2}:\d{2}\.\d{3})`)
	for _, tc := range []struct {
		doc string
		re  *regexp.Regexp
	}{
		{string(FormatSRT(segs)), srtRe},
		{string(FormatVTT(segs)), vttRe},
	} {
		matches := tc.re.FindAllStringSubmatch(tc.doc, -1)
		require.Len(t, matches, len(segs))
		prev := ""
		for _, m := range matches {
			// fixed-width stamps compare lexically
			assert.LessOrEqual(t, prev, m[1])
			assert.LessOrEqual(t, m[1], m[2])
			prev = m[2]
		}
	}
	assert.True(t, strings.HasPrefix(string(FormatVTT(segs)), "WEBVTT\n\n"))
}
