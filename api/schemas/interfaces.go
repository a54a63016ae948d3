package schemas

import "context"

// -- Browser Driver Interface --

// ElementHandle is an opaque reference to a live DOM node. It is only valid
// within the page state it was obtained from.
type ElementHandle int64

// Candidate pairs a live element with the fingerprint computed for it.
type Candidate struct {
	Handle      ElementHandle
	Fingerprint ElementFingerprint
}

// Driver is the browser automation surface consumed by the engine. Each run
// owns one Driver bound to an isolated browser context, so implementations are
// not required to be safe for concurrent use.
//
//go:generate mockery --name Driver --output ../../internal/mocks --outpkg mocks
type Driver interface {
	// Navigate loads url and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// QueryBySelector returns every element matching selector in document order.
	QueryBySelector(ctx context.Context, selector string) ([]ElementHandle, error)
	// QueryCandidatesByTag returns up to limit elements with the given tag name,
	// in document order, each with its current fingerprint.
	QueryCandidatesByTag(ctx context.Context, tag string, limit int) ([]Candidate, error)
	// GetFingerprint computes the fingerprint of a live element.
	GetFingerprint(ctx context.Context, h ElementHandle) (ElementFingerprint, error)
	Click(ctx context.Context, h ElementHandle) error
	Type(ctx context.Context, h ElementHandle, text string) error
	// GetText returns the element's rendered text.
	GetText(ctx context.Context, h ElementHandle) (string, error)
	IsVisible(ctx context.Context, h ElementHandle) (bool, error)
	CurrentURL(ctx context.Context) (string, error)
	// Screenshot captures the current viewport.
	Screenshot(ctx context.Context) ([]byte, error)
}

// DriverFactory hands out drivers bound to fresh, isolated browser contexts.
type DriverFactory interface {
	NewDriver(ctx context.Context) (Driver, func(), error)
}

// -- Persistence Interfaces --

// ScenarioStore gives read access to authored scenarios.
type ScenarioStore interface {
	GetScenario(ctx context.Context, id string) (*WebScenario, error)
	ListScenarios(ctx context.Context, projectID string) ([]WebScenario, error)
	SaveScenario(ctx context.Context, scenario *WebScenario) error
}

// ExecutionStore persists completed run records. Implementations must accept
// concurrent writes for distinct runs.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *WebExecution) error
	GetExecution(ctx context.Context, id string) (*WebExecution, error)
	ListExecutions(ctx context.Context, scenarioID string, limit int) ([]WebExecution, error)
}

// FingerprintStore keeps the last known good fingerprint per scenario and
// selector. LoadFingerprint returns (nil, nil) when nothing is stored.
type FingerprintStore interface {
	LoadFingerprint(ctx context.Context, scenarioID, selector string) (*ElementFingerprint, error)
	SaveFingerprint(ctx context.Context, scenarioID, selector string, fp ElementFingerprint) error
}

// Store is the full persistence surface used by the CLI.
type Store interface {
	ScenarioStore
	ExecutionStore
	FingerprintStore
	Close() error
}

// -- Event Sink Interface --

// EventSink receives run notifications. Implementations must be safe for
// concurrent use and must preserve the publish order of events sharing a
// run id.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}
