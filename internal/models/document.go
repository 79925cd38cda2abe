package models

import "time"

// PDFContentType is the only declared MIME type accepted at ingestion.
const PDFContentType = "application/pdf"

// Document represents the metadata record for an uploaded PDF.
// It is treated as an immutable value: changes produce a new Document that
// replaces the stored one.
type Document struct {
	ID         string    `firestore:"id" bson:"_id" json:"id"`
	Filename   string    `firestore:"filename" bson:"filename" json:"filename"`
	Filesize   int64     `firestore:"filesize" bson:"filesize" json:"filesize"`
	Filetype   string    `firestore:"filetype" bson:"filetype" json:"filetype"`
	UploadDate time.Time `firestore:"uploadDate" bson:"uploadDate" json:"uploadDate"`
	OCRJobDone bool      `firestore:"ocrJobDone" bson:"ocrJobDone" json:"ocrJobDone"`
}

// WithOCRJobDone returns a copy of d with the completion flag set.
func (d Document) WithOCRJobDone() Document {
	d.OCRJobDone = true
	return d
}
