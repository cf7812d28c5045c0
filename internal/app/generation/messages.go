// Package generation implements the document generation workflow: a document
// record is created, an outline is generated, and content nodes are generated
// in parallel by external workers before the document is finalized.
package generation

import (
	"encoding/json"

	"github.com/openctemio/docflow/pkg/domain/workflow"
)

// States.
const (
	StateCreating          workflow.State = "creating"
	StateProcessing        workflow.State = "processing"
	StateContentGeneration workflow.State = "content_generation"
	StateContentFinalized  workflow.State = "content_finalized"
)

// Inbound events.
const (
	TypeRequested            workflow.MessageType = "generation.requested"
	TypeDocumentCreated      workflow.MessageType = "generation.document_created"
	TypeOutlineGenerated     workflow.MessageType = "generation.outline_generated"
	TypeOutlineFailed        workflow.MessageType = "generation.outline_failed"
	TypeContentSubmitted     workflow.MessageType = "generation.content_submitted"
	TypeContentNodeGenerated workflow.MessageType = "generation.content_node_generated"
)

// Outbound commands and notifications.
const (
	TypeCreateDocument  workflow.MessageType = "generation.create_document"
	TypeGenerateOutline workflow.MessageType = "generation.generate_outline"
	TypeGenerateContent workflow.MessageType = "generation.generate_content"
	TypeCompleted       workflow.MessageType = "generation.completed"
	TypeFailed          workflow.MessageType = "generation.failed"
)

// Data is the generation instance state.
type Data struct {
	DocumentTitle         string          `json:"document_title"`
	AuthorID              string          `json:"author_id"`
	DocumentProcess       string          `json:"document_process"`
	MetadataID            string          `json:"metadata_id,omitempty"`
	RequestJSON           json.RawMessage `json:"request,omitempty"`
	ContentNodesExpected  int             `json:"content_nodes_expected"`
	ContentNodesCompleted int             `json:"content_nodes_completed"`
	CompletedNodeIDs      []string        `json:"completed_node_ids,omitempty"`
	Submitted             bool            `json:"submitted"`
	SubmissionID          string          `json:"submission_id,omitempty"`
}

// Requested starts a generation.
type Requested struct {
	DocumentTitle   string          `json:"document_title" validate:"required,max=500"`
	AuthorID        string          `json:"author_id" validate:"required"`
	DocumentProcess string          `json:"document_process" validate:"required,slug"`
	Request         json.RawMessage `json:"request,omitempty"`
}

// CreateDocument asks the document service to create the record.
type CreateDocument struct {
	DocumentTitle   string          `json:"document_title"`
	AuthorID        string          `json:"author_id"`
	DocumentProcess string          `json:"document_process"`
	Request         json.RawMessage `json:"request,omitempty"`
}

// DocumentCreated reports the created record.
type DocumentCreated struct {
	MetadataID string `json:"metadata_id"`
}

// GenerateOutline asks the AI backend for an outline.
type GenerateOutline struct {
	DocumentTitle   string `json:"document_title"`
	AuthorID        string `json:"author_id"`
	DocumentProcess string `json:"document_process"`
}

// OutlineGenerated carries the outline produced by the backend.
type OutlineGenerated struct {
	GeneratedDocument json.RawMessage `json:"generated_document,omitempty"`
}

// OutlineFailed reports an outline failure.
type OutlineFailed struct {
	Reason string `json:"reason"`
}

// GenerateContent asks the backend to generate every content node of the outline.
type GenerateContent struct {
	AuthorID          string          `json:"author_id"`
	DocumentProcess   string          `json:"document_process"`
	MetadataID        string          `json:"metadata_id"`
	GeneratedDocument json.RawMessage `json:"generated_document,omitempty"`
}

// ContentSubmitted announces how many content nodes will be generated.
type ContentSubmitted struct {
	NodeCount int `json:"node_count" validate:"gte=0"`
}

// ContentNodeGenerated reports one content node.
type ContentNodeGenerated struct {
	NodeID     string `json:"node_id"`
	Successful bool   `json:"successful"`
	Error      string `json:"error,omitempty"`
}

// Completed is published once every content node succeeded.
type Completed struct {
	MetadataID    string `json:"metadata_id"`
	DocumentTitle string `json:"document_title"`
	NodeCount     int    `json:"node_count"`
}

// Failed is published when the generation fails.
type Failed struct {
	Reason string `json:"reason"`
}
