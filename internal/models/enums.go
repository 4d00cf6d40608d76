package models

import (
	"fmt"
	"strings"
)

type SourceType string

const (
	SourceTypePDF  SourceType = "pdf"
	SourceTypeDOCX SourceType = "docx"
	SourceTypeTXT  SourceType = "txt"
	SourceTypeCSV  SourceType = "csv"
	SourceTypeXLSX SourceType = "xlsx"
	SourceTypePPTX SourceType = "pptx"
	SourceTypeEPUB SourceType = "epub"
	SourceTypeWeb  SourceType = "web"
	SourceTypeLink SourceType = "link"
)

// SourceTypeForExtension maps a file extension (with or without the dot) to a source type.
func SourceTypeForExtension(ext string) (SourceType, bool) {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "pdf":
		return SourceTypePDF, true
	case "docx":
		return SourceTypeDOCX, true
	case "txt", "md":
		return SourceTypeTXT, true
	case "csv":
		return SourceTypeCSV, true
	case "xlsx":
		return SourceTypeXLSX, true
	case "pptx":
		return SourceTypePPTX, true
	case "epub":
		return SourceTypeEPUB, true
	}
	return "", false
}

type SourceStatus string

const (
	StatusPending    SourceStatus = "pending"
	StatusProcessing SourceStatus = "processing"
	StatusReady      SourceStatus = "ready"
	StatusError      SourceStatus = "error"
)

// sourceTransitions is exhaustive: any pair not listed is forbidden.
// ready/error -> pending is reserved for an explicit re-ingestion reset.
var sourceTransitions = map[SourceStatus][]SourceStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusReady, StatusError},
	StatusReady:      {StatusPending},
	StatusError:      {StatusPending},
}

func (s SourceStatus) Valid() bool {
	_, ok := sourceTransitions[s]
	return ok
}

// Terminal reports whether a run has finished for the source.
func (s SourceStatus) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to SourceStatus) bool {
	for _, next := range sourceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type AssistantMode string

const (
	ModeStudy         AssistantMode = "study"
	ModeExam          AssistantMode = "exam"
	ModeRetrieval     AssistantMode = "retrieval"
	ModeInstitutional AssistantMode = "institutional"
)

func ParseAssistantMode(s string) (AssistantMode, error) {
	switch m := AssistantMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStudy, ModeExam, ModeRetrieval, ModeInstitutional:
		return m, nil
	case "":
		return ModeStudy, nil
	}
	return "", fmt.Errorf("unknown assistant mode %q", s)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}
