package models

// Ticket is the tracker issue data the workflow needs.
type Ticket struct {
	Key         string
	Summary     string
	Description string
	Status      string
	Reporter    string
	Attachments []Attachment
}

// Attachment is a file attached to a tracker issue.
type Attachment struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
	URL      string
}
