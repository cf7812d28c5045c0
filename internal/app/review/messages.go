// Package review implements the document review workflow: the exported document
// is ingested, its review questions are answered and each answer is analyzed
// before the review completes.
package review

import (
	"encoding/json"

	"github.com/openctemio/docflow/pkg/domain/workflow"
)

// States.
const (
	StateIngesting workflow.State = "ingesting"
	StateAnswering workflow.State = "answering"
)

// Inbound events.
const (
	TypeRequested        workflow.MessageType = "review.requested"
	TypeDocumentIngested workflow.MessageType = "review.document_ingested"
	TypeQuestionAnswered workflow.MessageType = "review.question_answered"
	TypeAnswerAnalyzed   workflow.MessageType = "review.answer_analyzed"
)

// Outbound commands and notifications.
const (
	TypeIngestDocument      workflow.MessageType = "review.ingest_document"
	TypeDistributeQuestions workflow.MessageType = "review.distribute_questions"
	TypeAnalyzeSentiment    workflow.MessageType = "review.analyze_sentiment"
	TypeAnswerNotification  workflow.MessageType = "review.answer_notification"
	TypeCompleted           workflow.MessageType = "review.completed"
)

// Data is the review instance state.
type Data struct {
	ReviewID               string   `json:"review_id,omitempty"`
	ExportedDocumentLinkID string   `json:"exported_document_link_id,omitempty"`
	TotalQuestions         int      `json:"total_questions"`
	Answered               int      `json:"answered"`
	Analyzed               int      `json:"analyzed"`
	AnsweredIDs            []string `json:"answered_ids,omitempty"`
	AnalyzedIDs            []string `json:"analyzed_ids,omitempty"`
}

// Requested starts a review.
type Requested struct {
	ReviewID               string `json:"review_id" validate:"required"`
	ExportedDocumentLinkID string `json:"exported_document_link_id" validate:"required"`
}

// IngestDocument asks the ingestion workers for the document to review.
type IngestDocument struct {
	ReviewID               string `json:"review_id"`
	ExportedDocumentLinkID string `json:"exported_document_link_id"`
}

// DocumentIngested reports the ingested document and its question count.
type DocumentIngested struct {
	ExportedDocumentLinkID string `json:"exported_document_link_id"`
	TotalQuestions         int    `json:"total_questions"`
}

// DistributeQuestions fans the questions out to the answering workers.
type DistributeQuestions struct {
	ReviewID               string `json:"review_id"`
	ExportedDocumentLinkID string `json:"exported_document_link_id"`
	TotalQuestions         int    `json:"total_questions"`
}

// QuestionAnswered carries one answer.
type QuestionAnswered struct {
	AnswerID string          `json:"answer_id"`
	Answer   json.RawMessage `json:"answer,omitempty"`
}

// AnalyzeSentiment asks for the sentiment of one answer.
type AnalyzeSentiment struct {
	AnswerID string          `json:"answer_id"`
	Answer   json.RawMessage `json:"answer,omitempty"`
}

// AnswerAnalyzed reports that an answer's sentiment is known.
type AnswerAnalyzed struct {
	AnswerID string `json:"answer_id"`
}

// AnswerNotification tells subscribers that an answer is ready.
type AnswerNotification struct {
	AnswerID string `json:"answer_id"`
	Analyzed int    `json:"analyzed"`
	Total    int    `json:"total"`
}

// Completed is published once every answer is analyzed.
type Completed struct {
	ReviewID       string `json:"review_id"`
	TotalQuestions int    `json:"total_questions"`
}
