package assembler

import (
	"time"

	"github.com/fyrsmithlabs/skillctx/internal/cache"
	"github.com/fyrsmithlabs/skillctx/internal/compression"
	"github.com/fyrsmithlabs/skillctx/internal/matcher"
	"github.com/fyrsmithlabs/skillctx/internal/quality"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is an outgoing chat request to augment.
type Request struct {
	RequestID      string    `json:"request_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Category       string    `json:"category,omitempty"`
	AvailableTools []string  `json:"available_tools,omitempty"`
	Messages       []Message `json:"messages"`
}

// Mode says how a tool's guidance was injected.
type Mode string

const (
	// ModeFull injects the compressed guide at the tool's full budget.
	ModeFull Mode = "full"
	// ModeSummary injects the guide at the reduced summary budget.
	ModeSummary Mode = "summary"
	// ModeReference points back to a guide injected earlier in the session.
	ModeReference Mode = "reference"
	// ModeBlurb is the short template used for standard tools.
	ModeBlurb Mode = "blurb"
)

// Injection describes one block of the augmentation message.
type Injection struct {
	ToolName     string                  `json:"tool_name"`
	Mode         Mode                    `json:"mode"`
	Score        float64                 `json:"score"`
	IsPrimary    bool                    `json:"is_primary"`
	ContentType  compression.ContentType `json:"content_type,omitempty"`
	Strategy     compression.Strategy    `json:"strategy,omitempty"`
	Budget       int                     `json:"budget,omitempty"`
	OriginalSize int                     `json:"original_size,omitempty"`
	Size         int                     `json:"size"`
	CacheHit     bool                    `json:"cache_hit"`
	QualityScore float64                 `json:"quality_score,omitempty"`
	FellBack     bool                    `json:"fell_back,omitempty"`
}

// Result is the outcome of one augmentation pass. Messages is always
// usable, augmented or not.
type Result struct {
	RequestID  string          `json:"request_id"`
	Messages   []Message       `json:"messages"`
	Augmented  bool            `json:"augmented"`
	Reason     string          `json:"reason,omitempty"`
	Matches    []matcher.Match `json:"matches,omitempty"`
	Injections []Injection     `json:"injections,omitempty"`
	Duration   time.Duration   `json:"duration_ns"`
}

// Reasons reported when no augmentation happens.
const (
	ReasonNoUserMessage = "no user message"
	ReasonNoRegistry    = "skill registry unavailable"
	ReasonEmptyRegistry = "skill registry empty"
	ReasonNoMatches     = "no relevant skills"
)

// Status is the diagnostic report.
type Status struct {
	Cache            cache.Stats    `json:"cache"`
	ActiveSessions   int            `json:"active_sessions"`
	Quality          quality.Report `json:"quality"`
	Documents        int            `json:"documents"`
	RegistryLoaded   bool           `json:"registry_loaded"`
	RegistryLoadedAt time.Time      `json:"registry_loaded_at,omitempty"`
	RegistryReloads  int64          `json:"registry_reloads"`
}

// SessionInfo lists the full guides a session has received.
type SessionInfo struct {
	SessionID string          `json:"session_id"`
	Tools     []ToolInjection `json:"tools"`
}

// ToolInjection records when a tool's full guide entered a session.
type ToolInjection struct {
	ToolName   string    `json:"tool_name"`
	InjectedAt time.Time `json:"injected_at"`
}
