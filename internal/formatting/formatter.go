// Package formatting turns Amazon Transcribe item streams into readable
// text and timed segments.
package formatting

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/embano1/transcribe/internal/aws"
	"github.com/embano1/transcribe/internal/types"
)

// FormatTranscriptWithSpeakers formats the transcript with speaker labels for better readability
func FormatTranscriptWithSpeakers(doc *aws.TranscriptDocument) string {
	var formatted strings.Builder
	currentSpeaker := ""
	atSpeakerStart := false

	for _, item := range doc.Results.Items {
		if len(item.Alternatives) == 0 {
			continue
		}
		content := item.Alternatives[0].Content

		switch item.Type {
		case "punctuation":
			// punctuation attaches to the previous word
			formatted.WriteString(content)
		case "pronunciation":
			if item.SpeakerLabel != "" && item.SpeakerLabel != currentSpeaker {
				currentSpeaker = item.SpeakerLabel
				if formatted.Len() > 0 {
					formatted.WriteString("\n\n")
				}
				fmt.Fprintf(&formatted, "Speaker %s: ", speakerNumber(currentSpeaker))
				atSpeakerStart = true
			}
			if !atSpeakerStart && formatted.Len() > 0 {
				formatted.WriteString(" ")
			}
			formatted.WriteString(content)
			atSpeakerStart = false
		}
	}
	return formatted.String()
}

// Segments groups items into timed segments. A segment ends at sentence
// punctuation or when the speaker changes.
func Segments(doc *aws.TranscriptDocument, withSpeakers bool) []types.Segment {
	var (
		out   []types.Segment
		cur   *types.Segment
		words strings.Builder
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = words.String()
		out = append(out, *cur)
		cur = nil
		words.Reset()
	}

	for _, item := range doc.Results.Items {
		if len(item.Alternatives) == 0 {
			continue
		}
		content := item.Alternatives[0].Content

		if item.Type == "punctuation" {
			if cur == nil {
				continue
			}
			words.WriteString(content)
			if strings.ContainsAny(content, ".?!") {
				flush()
			}
			continue
		}

		start, errS := strconv.ParseFloat(item.StartTime, 64)
		end, errE := strconv.ParseFloat(item.EndTime, 64)
		if errS != nil || errE != nil {
			continue
		}

		speaker := ""
		if withSpeakers && item.SpeakerLabel != "" {
			speaker = "Speaker " + speakerNumber(item.SpeakerLabel)
		}
		if cur != nil && cur.Speaker != speaker {
			flush()
		}
		if cur == nil {
			cur = &types.Segment{Start: start, Speaker: speaker}
		} else {
			words.WriteString(" ")
		}
		words.WriteString(content)
		cur.End = end
	}
	flush()
	return out
}

func speakerNumber(label string) string {
	return strings.TrimPrefix(label, "spk_")
}
