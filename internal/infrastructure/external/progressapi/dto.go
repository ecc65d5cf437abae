package progressapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotDTO is the body of GET and PUT /v1/progress/{scope}.
// CompletedModules is a pointer so a missing field can be told apart from an empty list.
type SnapshotDTO struct {
	CompletedModules *[]string    `json:"completedModules"`
	UpdatedAt        string       `json:"updatedAt"`
	Version          *int64       `json:"version"`
	XP               *progress.XP `json:"xp,omitempty"`
	Streak           *int         `json:"streak,omitempty"`
	LastActiveDay    string       `json:"lastActiveDay,omitempty"`
}

// APIErrorDTO is the error body returned by the progress service.
type APIErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func snapshotToDTO(s progress.RemoteSnapshot) SnapshotDTO {
	modules := s.CompletedModules
	if modules == nil {
		modules = []string{}
	}
	version := s.Version
	return SnapshotDTO{
		CompletedModules: &modules,
		UpdatedAt:        s.UpdatedAt,
		Version:          &version,
		XP:               s.XP,
		Streak:           s.Streak,
		LastActiveDay:    s.LastActiveDay,
	}
}

// decodeSnapshot parses a snapshot body. Anything that does not satisfy the
// wire contract is reported as shared.ErrMalformedSnapshot.
func decodeSnapshot(body []byte) (*progress.RemoteSnapshot, error) {
	var dto SnapshotDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, malformed("decode body: %v", err)
	}
	if dto.CompletedModules == nil {
		return nil, malformed("completedModules is missing")
	}
	if dto.Version == nil {
		return nil, malformed("version is missing")
	}
	if strings.TrimSpace(dto.UpdatedAt) == "" {
		return nil, malformed("updatedAt is missing")
	}

	return &progress.RemoteSnapshot{
		CompletedModules: *dto.CompletedModules,
		UpdatedAt:        dto.UpdatedAt,
		Version:          *dto.Version,
		XP:               dto.XP,
		Streak:           dto.Streak,
		LastActiveDay:    dto.LastActiveDay,
	}, nil
}

func malformed(format string, args ...any) error {
	return shared.WrapError("gateway", "DecodeSnapshot", shared.ErrInvalidFormat,
		fmt.Sprintf(format, args...), shared.ErrMalformedSnapshot)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("progress api: %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("progress api: %d: %s", e.StatusCode, msg)
}

// Temporary reports whether the request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newStatusError(status int, body []byte) *StatusError {
	se := &StatusError{StatusCode: status}
	var apiErr APIErrorDTO
	if err := json.Unmarshal(body, &apiErr); err == nil {
		se.Code = apiErr.Code
		se.Message = apiErr.Message
	}
	return se
}
