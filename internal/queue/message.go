package queue

import "encoding/json"

// JobMessage is the JSON document enqueued by the Submission Facade and
// parsed by the Worker Pool (spec §6). fileUrl holds the Blob Store key, not
// a literal URL — the field name matches the wire contract exactly.
type JobMessage struct {
	JobID            string `json:"jobId"`
	FileURL          string `json:"fileUrl"`
	OriginalFileName string `json:"originalFileName"`
	MimeType         string `json:"mimeType"`
	TeacherName      string `json:"teacherName,omitempty"`
	ClassName        string `json:"className,omitempty"`
	UserID           string `json:"userId,omitempty"`
}

// Marshal serializes the message body for Queue.Send.
func (m JobMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParseJobMessage parses a queue message body into a JobMessage. A parse
// failure is the caller's cue to delete the message and log, per spec §4.7
// step 2 — it is never retried.
func ParseJobMessage(body []byte) (JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return JobMessage{}, err
	}
	return m, nil
}
