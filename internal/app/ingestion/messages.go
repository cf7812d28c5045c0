// Package ingestion implements the document ingestion workflow: the uploaded
// document is recorded, classified, processed and indexed by external workers.
package ingestion

import "github.com/openctemio/docflow/pkg/domain/workflow"

// States.
const (
	StateCreating    workflow.State = "creating"
	StateClassifying workflow.State = "classifying"
	StateProcessing  workflow.State = "processing"
	StateIndexing    workflow.State = "indexing"
)

// Inbound events.
const (
	TypeRequested                 workflow.MessageType = "ingestion.requested"
	TypeDocumentCreated           workflow.MessageType = "ingestion.document_created"
	TypeDocumentRejected          workflow.MessageType = "ingestion.document_rejected"
	TypeClassified                workflow.MessageType = "ingestion.classified"
	TypeClassificationFailed      workflow.MessageType = "ingestion.classification_failed"
	TypeProcessed                 workflow.MessageType = "ingestion.processed"
	TypeProcessingFailed          workflow.MessageType = "ingestion.processing_failed"
	TypeUnsupportedClassification workflow.MessageType = "ingestion.unsupported_classification"
	TypeIndexed                   workflow.MessageType = "ingestion.indexed"
)

// Outbound commands and notifications.
const (
	TypeCreateDocument   workflow.MessageType = "ingestion.create_document"
	TypeClassifyDocument workflow.MessageType = "ingestion.classify_document"
	TypeProcessDocument  workflow.MessageType = "ingestion.process_document"
	TypeIndexDocument    workflow.MessageType = "ingestion.index_document"
	TypeCompleted        workflow.MessageType = "ingestion.completed"
	TypeFailed           workflow.MessageType = "ingestion.failed"
)

// Data is the ingestion instance state. Every command carries all of it so a
// stage can be retried without reading the instance.
type Data struct {
	FileName           string `json:"file_name"`
	SourceURL          string `json:"source_url"`
	UploadedBy         string `json:"uploaded_by,omitempty"`
	DocumentProcess    string `json:"document_process"`
	Plugin             string `json:"plugin,omitempty"`
	FileHash           string `json:"file_hash,omitempty"`
	ClassificationCode string `json:"classification_code,omitempty"`
}

// Requested starts an ingestion.
type Requested struct {
	FileName        string `json:"file_name" validate:"required,max=255"`
	SourceURL       string `json:"source_url" validate:"required,url"`
	UploadedBy      string `json:"uploaded_by,omitempty"`
	DocumentProcess string `json:"document_process" validate:"required,slug"`
	Plugin          string `json:"plugin,omitempty"`
}

// DocumentCreated reports the stored record.
type DocumentCreated struct {
	FileHash string `json:"file_hash"`
}

// Classified carries the classification result.
type Classified struct {
	ClassificationCode string `json:"classification_code"`
}

// StageFailed is the payload of every declared failure event.
type StageFailed struct {
	Reason string `json:"reason"`
}

// Command is the payload of every forward command.
type Command struct {
	Data
}

// Failed is published when the ingestion fails.
type Failed struct {
	Stage  workflow.State `json:"stage"`
	Reason string         `json:"reason"`
	Data
}
