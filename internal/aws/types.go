package aws

// TranscriptDocument is the JSON document Amazon Transcribe writes to the
// output bucket.
type TranscriptDocument struct {
	JobName string `json:"jobName"`
	Status  string `json:"status"`
	Results struct {
		LanguageCode  string         `json:"language_code,omitempty"`
		Transcripts   []Transcript   `json:"transcripts"`
		SpeakerLabels *SpeakerLabels `json:"speaker_labels,omitempty"`
		Items         []Item         `json:"items"`
	} `json:"results"`
}

// Transcript is one transcript alternative.
type Transcript struct {
	Transcript string `json:"transcript"`
}

// SpeakerLabels holds the diarization output.
type SpeakerLabels struct {
	Speakers int       `json:"speakers"`
	Segments []Segment `json:"segments"`
}

// Segment is a speaker turn.
type Segment struct {
	StartTime    string        `json:"start_time"`
	EndTime      string        `json:"end_time"`
	SpeakerLabel string        `json:"speaker_label"`
	Items        []SegmentItem `json:"items"`
}

// SegmentItem is a word within a speaker turn.
type SegmentItem struct {
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	SpeakerLabel string `json:"speaker_label"`
}

// Item is a recognized word or punctuation mark. Punctuation carries no timing.
type Item struct {
	StartTime    string        `json:"start_time,omitempty"`
	EndTime      string        `json:"end_time,omitempty"`
	Type         string        `json:"type"`
	SpeakerLabel string        `json:"speaker_label,omitempty"`
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is a candidate for an item.
type Alternative struct {
	Confidence string `json:"confidence"`
	Content    string `json:"content"`
}

// Text returns the first transcript alternative, if any.
func (d *TranscriptDocument) Text() string {
	if len(d.Results.Transcripts) == 0 {
		return ""
	}
	return d.Results.Transcripts[0].Transcript
}
